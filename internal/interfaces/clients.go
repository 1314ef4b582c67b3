// Package interfaces defines service contracts for vire-screen
package interfaces

import (
	"context"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// MarketSnapshotClient fetches per-ticker market data for a scan.
// Permanent absence is reported as a snapshot with NoData set, not as an error.
type MarketSnapshotClient interface {
	// FetchSnapshot returns recent bars, the latest session and optional fundamentals
	FetchSnapshot(ctx context.Context, ticker models.Ticker) (*models.MarketSnapshot, error)

	// FetchEarningsHistory returns quarterly net income, newest first.
	// A nil slice with a nil error means no data.
	FetchEarningsHistory(ctx context.Context, ticker models.Ticker) ([]float64, error)
}

// SymbolLister enumerates an exchange's listings
type SymbolLister interface {
	GetExchangeSymbols(ctx context.Context, exchange string) ([]*models.Symbol, error)
}

// UniverseSource enumerates the tickers a scan walks when none are given.
type UniverseSource interface {
	Tickers(ctx context.Context) ([]string, error)
}
