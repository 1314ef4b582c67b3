// Package universe enumerates the default ticker universe for a scan.
package universe

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// universeFile accepts a flat ticker list, named sector lists, or both.
type universeFile struct {
	Tickers []string            `yaml:"tickers"`
	Sectors map[string][]string `yaml:"sectors"`
}

// FileSource reads tickers from a YAML file on every call so edits apply to the next scan.
type FileSource struct {
	path   string
	sector string
}

// NewFileSource creates a file-backed source. A non-empty sector restricts the result to that list.
func NewFileSource(path, sector string) *FileSource {
	return &FileSource{path: path, sector: sector}
}

// Tickers returns the file's codes, de-duplicated, in file order
func (s *FileSource) Tickers(ctx context.Context) ([]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	var uf universeFile
	if err := yaml.Unmarshal(b, &uf); err != nil {
		return nil, fmt.Errorf("parse universe file %s: %w", s.path, err)
	}

	if s.sector != "" {
		list, ok := uf.Sectors[s.sector]
		if !ok {
			return nil, fmt.Errorf("sector %q not found in %s", s.sector, s.path)
		}
		return dedupe(list), nil
	}

	all := append([]string(nil), uf.Tickers...)
	names := make([]string, 0, len(uf.Sectors))
	for name := range uf.Sectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		all = append(all, uf.Sectors[name]...)
	}
	return dedupe(all), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ExchangeSource lists an exchange's common stocks through the provider's symbol list.
type ExchangeSource struct {
	lister   interfaces.SymbolLister
	exchange string
	logger   *common.Logger
}

// NewExchangeSource creates an exchange-backed source
func NewExchangeSource(lister interfaces.SymbolLister, exchange string, logger *common.Logger) *ExchangeSource {
	return &ExchangeSource{lister: lister, exchange: exchange, logger: logger}
}

// Tickers returns suffixed codes for every common stock whose code is a valid ticker
func (s *ExchangeSource) Tickers(ctx context.Context) ([]string, error) {
	symbols, err := s.lister.GetExchangeSymbols(ctx, s.exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange symbols: %w", err)
	}

	out := make([]string, 0, len(symbols))
	skipped := 0
	for _, sym := range symbols {
		// Only common stocks (exclude ETFs, REITs, warrants)
		if sym.Type != "Common Stock" && sym.Type != "" {
			continue
		}
		t, err := models.NormalizeTicker(sym.Code, s.exchange)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, t.String())
	}

	s.logger.Debug().
		Str("exchange", s.exchange).
		Int("symbols", len(symbols)).
		Int("tickers", len(out)).
		Int("skipped", skipped).
		Msg("Exchange universe enumerated")

	if len(out) == 0 {
		return nil, fmt.Errorf("exchange %s returned no usable tickers", s.exchange)
	}
	return out, nil
}

// New builds the source selected by cfg
func New(cfg common.UniverseConfig, lister interfaces.SymbolLister, logger *common.Logger) (interfaces.UniverseSource, error) {
	switch cfg.Source {
	case "", "file":
		return NewFileSource(cfg.File, cfg.Sector), nil
	case "exchange":
		if cfg.Exchange == "" {
			return nil, fmt.Errorf("universe source exchange requires an exchange code")
		}
		return NewExchangeSource(lister, cfg.Exchange, logger), nil
	default:
		return nil, fmt.Errorf("unknown universe source %q", cfg.Source)
	}
}

var (
	_ interfaces.UniverseSource = (*FileSource)(nil)
	_ interfaces.UniverseSource = (*ExchangeSource)(nil)
)
