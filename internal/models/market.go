// Package models defines data structures for vire-screen
package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTicker is returned when a ticker does not match the exchange code format.
var ErrInvalidTicker = errors.New("invalid ticker")

// Ticker is an exchange code in EODHD form, e.g. "7203.TSE".
type Ticker string

// Code returns the base code without the exchange suffix.
func (t Ticker) Code() string {
	s := string(t)
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func (t Ticker) String() string { return string(t) }

// NormalizeTicker validates a raw code and appends the exchange suffix when missing.
// Accepted codes are four characters: digits, with an optional trailing uppercase
// letter in the last position ("130A"). Suffixed input keeps its own suffix.
func NormalizeTicker(raw, suffix string) (Ticker, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	code, exchange := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		code, exchange = s[:idx], s[idx+1:]
		if exchange == "" {
			return "", ErrInvalidTicker
		}
	}
	if !validCode(code) {
		return "", ErrInvalidTicker
	}
	if exchange == "" {
		exchange = strings.ToUpper(strings.TrimPrefix(suffix, "."))
	}
	if exchange == "" {
		return Ticker(code), nil
	}
	return Ticker(code + "." + exchange), nil
}

func validCode(code string) bool {
	if len(code) != 4 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	last := code[3]
	return (last >= '0' && last <= '9') || (last >= 'A' && last <= 'Z')
}

// Bar represents a single day's price data
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjusted_close"`
	Volume   int64     `json:"volume"`
}

// MarketSnapshot is the per-scan view of one ticker. Bars are ordered newest first.
type MarketSnapshot struct {
	Ticker        Ticker     `json:"ticker"`
	Name          string     `json:"name,omitempty"`
	Bars          []Bar      `json:"bars"`
	Open          float64    `json:"open"`
	High          float64    `json:"high"`
	Low           float64    `json:"low"`
	Close         float64    `json:"close"`
	Volume        int64      `json:"volume"`
	PreviousClose float64    `json:"previous_close"`
	MarketCap     *float64   `json:"market_cap,omitempty"`
	ListingDate   *time.Time `json:"listing_date,omitempty"`
	NetIncome     []float64  `json:"net_income,omitempty"` // quarterly, newest first
	FetchedAt     time.Time  `json:"fetched_at"`
	NoData        bool       `json:"no_data,omitempty"`
}

// HasPrice reports whether the latest session carries usable prices.
func (s *MarketSnapshot) HasPrice() bool {
	return s != nil && !s.NoData && s.Open > 0 && s.Close > 0 && s.High > 0
}

// ChangePct returns the latest close change versus the previous close, in percent.
func (s *MarketSnapshot) ChangePct() float64 {
	if s.PreviousClose <= 0 {
		return 0
	}
	return (s.Close - s.PreviousClose) / s.PreviousClose * 100
}

// SnapshotFromBars fills the latest-session fields from newest-first bars.
func SnapshotFromBars(ticker Ticker, bars []Bar) *MarketSnapshot {
	snap := &MarketSnapshot{Ticker: ticker, Bars: bars, FetchedAt: time.Now()}
	if len(bars) == 0 {
		snap.NoData = true
		return snap
	}
	latest := bars[0]
	snap.Open = latest.Open
	snap.High = latest.High
	snap.Low = latest.Low
	snap.Close = latest.Close
	snap.Volume = latest.Volume
	if len(bars) > 1 {
		snap.PreviousClose = bars[1].Close
	}
	return snap
}

// Symbol is an exchange listing entry.
type Symbol struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Country  string `json:"Country"`
	Exchange string `json:"Exchange"`
	Currency string `json:"Currency"`
	Type     string `json:"Type"`
}
