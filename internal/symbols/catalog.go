package symbols

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultSymbols is the fallback catalog when no YAML file is configured
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "AVAXUSDT", "DOTUSDT", "MATICUSDT",
	"LINKUSDT", "LTCUSDT", "ATOMUSDT", "UNIUSDT", "XLMUSDT",
}

type symbolsFile struct {
	Symbols []string `yaml:"symbols"`
}

// loadSymbolsFile reads the YAML symbol list at path
func loadSymbolsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f symbolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbols file %s: %w", path, err)
	}
	if len(f.Symbols) == 0 {
		return nil, fmt.Errorf("symbols file %s lists no symbols", path)
	}
	return f.Symbols, nil
}

// Catalog holds the set of symbols the platform offers. Subscribe requests
// for symbols outside the catalog are rejected before any upstream work.
type Catalog struct {
	symbols map[string]bool
	logger  *logrus.Logger
	mu      sync.RWMutex
}

// NewCatalog loads the symbol catalog from filePath, falling back to
// DefaultSymbols when the file is missing or invalid.
func NewCatalog(filePath string, logger *logrus.Logger) *Catalog {
	list, err := loadSymbolsFile(filePath)
	if err != nil {
		logger.WithError(err).Warn("Using built-in symbol list")
		list = DefaultSymbols
	}

	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[strings.ToUpper(s)] = true
	}

	logger.Infof("Symbol catalog loaded: %d symbols", len(set))

	return &Catalog{
		symbols: set,
		logger:  logger,
	}
}

// IsSupported reports whether symbol is in the catalog (case-insensitive)
func (c *Catalog) IsSupported(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbols[strings.ToUpper(symbol)]
}

// List returns all catalog symbols
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// Replace swaps the catalog contents, used by config reload
func (c *Catalog) Replace(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(s)] = true
	}

	c.mu.Lock()
	c.symbols = set
	c.mu.Unlock()

	c.logger.Infof("Symbol catalog replaced: %d symbols", len(set))
}
