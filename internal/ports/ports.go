// Package ports defines the narrow interfaces that separate the engine
// core from its pluggable, out-of-scope collaborators: asset metadata
// resolution, trading-calendar holiday rules, raw bar/adjustment storage,
// and bundle ingestion.
package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

// AssetResolver owns the symbol/id/exchange lookup collection. It is an
// external collaborator: this engine never mutates asset metadata itself.
type AssetResolver interface {
	LookupSymbol(ctx context.Context, symbol string, asOf *time.Time) (domain.Asset, error)
	LookupSymbols(ctx context.Context, symbols []string, asOf *time.Time) ([]domain.Asset, error)
	RetrieveAsset(ctx context.Context, id domain.AssetID) (domain.Asset, error)
	InsertAsset(ctx context.Context, asset domain.Asset) error
	GetAssetsByType(ctx context.Context, t domain.AssetType) ([]domain.Asset, error)
}

// SessionTimes is a trading session's open/close instants for one date.
type SessionTimes struct {
	Open  time.Time
	Close time.Time
}

// TradingCalendar owns holiday rules, session open/close times, and
// timezone handling. The engine only ever asks it yes/no questions.
type TradingCalendar interface {
	IsTradingDay(date time.Time) bool
	SessionTimes(date time.Time) (SessionTimes, bool)
	NextTradingDay(date time.Time) time.Time
	PreviousTradingDay(date time.Time) time.Time
	TradingDaysBetween(start, end time.Time) []time.Time
}

// Frequency is the bar granularity requested from a BarReader or the
// DataPortal.
type Frequency string

const (
	Daily  Frequency = "daily"
	Minute Frequency = "minute"
	Second Frequency = "second" // rejected everywhere history is requested
)

// ParseFrequency normalizes the accepted frequency strings.
func ParseFrequency(s string) (Frequency, bool) {
	switch s {
	case "daily", "d", "1d":
		return Daily, true
	case "minute", "min", "1min":
		return Minute, true
	case "second", "sec", "1s":
		return Second, true
	default:
		return "", false
	}
}

// BarReader provides point-in-time OHLCV access over a columnar store.
type BarReader interface {
	GetBar(ctx context.Context, asset domain.AssetID, ts time.Time) (domain.Bar, error)
	GetBars(ctx context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Bar, error)
	FirstAvailable(ctx context.Context, asset domain.AssetID) (time.Time, error)
	LastAvailable(ctx context.Context, asset domain.AssetID) (time.Time, error)
	Sessions(ctx context.Context) ([]time.Time, error)
}

// AdjustmentReader serves splits/dividends/mergers applied on read.
type AdjustmentReader interface {
	GetAdjustments(ctx context.Context, asset domain.AssetID, start, end time.Time) ([]domain.Adjustment, error)
	ApplyAsOf(ctx context.Context, bar *domain.Bar, asset domain.AssetID, asOf time.Time) error
}

// BundleIngestor fetches raw bars from an external CSV/HTTP source and
// writes them into the on-disk columnar bundle format. The engine itself
// never depends on it; only bundle-building tooling does.
type BundleIngestor interface {
	Ingest(ctx context.Context, asset domain.AssetID, source string, dest string) error
}
