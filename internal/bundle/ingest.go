package bundle

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/backalpha/internal/domain"
	"github.com/alejandrodnm/backalpha/internal/errs"
)

const (
	ingestRatePerSec = 5 // conservative default for unauthenticated CSV mirrors
	ingestBurst      = 2
	ingestMaxRetries = 3
	ingestBaseWait   = 500 * time.Millisecond
)

// CSVIngestor implements ports.BundleIngestor by fetching a CSV bar
// series (date,open,high,low,close,volume header) either over HTTP(S) or
// from the local filesystem, and writing it into the on-disk columnar
// bundle format. Rate limiting and retry-with-backoff are grounded on
// adapters/polymarket.Client's doWithRetry.
type CSVIngestor struct {
	http       *http.Client
	limiter    *rate.Limiter
	chunkBytes int
	compress   bool
	minuteFreq bool
}

// NewCSVIngestor builds a CSVIngestor. minuteFreq selects WriteMinuteBundle
// over WriteDailyBundle for the fetched series.
func NewCSVIngestor(minuteFreq, compress bool, chunkBytes int) *CSVIngestor {
	return &CSVIngestor{
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(ingestRatePerSec, ingestBurst),
		chunkBytes: chunkBytes,
		compress:   compress,
		minuteFreq: minuteFreq,
	}
}

// Ingest fetches source (an http(s):// URL or a local file path) and
// writes the parsed bars for asset into the dest bundle root.
func (ing *CSVIngestor) Ingest(ctx context.Context, asset domain.AssetID, source string, dest string) error {
	raw, err := ing.fetch(ctx, source)
	if err != nil {
		return errs.Wrap(errs.DataNotFound, err, "ingest: fetch %s", source)
	}

	bars, err := parseCSVBars(raw)
	if err != nil {
		return errs.Wrap(errs.InvalidData, err, "ingest: parse %s", source)
	}

	if ing.minuteFreq {
		return WriteMinuteBundle(dest, asset, bars, ing.chunkBytes, ing.compress)
	}
	return WriteDailyBundle(dest, asset, bars, ing.chunkBytes, ing.compress)
}

func (ing *CSVIngestor) fetch(ctx context.Context, source string) (io.Reader, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ing.fetchHTTP(ctx, source)
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", source, err)
	}
	return f, nil
}

func (ing *CSVIngestor) fetchHTTP(ctx context.Context, source string) (io.Reader, error) {
	var lastErr error
	for attempt := 0; attempt <= ingestMaxRetries; attempt++ {
		if err := ing.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := ing.http.Do(req)
		if err != nil {
			lastErr = err
			ing.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			ing.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return strings.NewReader(string(body)), nil
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", ingestMaxRetries, lastErr)
}

func (ing *CSVIngestor) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * ingestBaseWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// parseCSVBars reads a "date,open,high,low,close,volume" CSV into bars.
// date accepts RFC3339 or "2006-01-02".
func parseCSVBars(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var bars []domain.Bar
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}

		ts, err := parseCSVTimestamp(rec[cols["date"]])
		if err != nil {
			return nil, err
		}
		open, err := strconv.ParseFloat(rec[cols["open"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		high, err := strconv.ParseFloat(rec[cols["high"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		low, err := strconv.ParseFloat(rec[cols["low"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		cls, err := strconv.ParseFloat(rec[cols["close"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		vol, err := strconv.ParseFloat(rec[cols["volume"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}

		bars = append(bars, domain.Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return bars, nil
}

func parseCSVTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
