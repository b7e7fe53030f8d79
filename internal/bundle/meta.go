package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/backalpha/internal/errs"
)

var errInvalidData = errs.New(errs.InvalidData, "corrupt column")

// attrs is the meta/attrs JSON sidecar for one asset's column directory.
type attrs struct {
	FirstRow  int    `json:"first_row"`
	LastRow   int    `json:"last_row"`
	ChunkSize int    `json:"chunksize"`
	Codec     string `json:"codec"`
	CLevel    int    `json:"clevel"`
	Shuffle   bool   `json:"shuffle"`
}

func readAttrs(dir string) (attrs, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta", "attrs"))
	if err != nil {
		return attrs{}, fmt.Errorf("bundle: read attrs: %w", err)
	}
	var a attrs
	if err := json.Unmarshal(data, &a); err != nil {
		return attrs{}, errs.Wrap(errs.InvalidData, err, "bundle: parse attrs")
	}
	return a, nil
}

func writeAttrs(dir string, a attrs) error {
	metaDir := filepath.Join(dir, "meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("bundle: mkdir %q: %w", metaDir, err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(metaDir, "attrs"), data, 0o644)
}

// detectTimestampUnit classifies an epoch integer by magnitude:
// <= 1e6 epoch-days, <= 1e12 epoch-seconds, else epoch-nanos.
func detectTimestampUnit(v int64) timestampUnit {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= 1_000_000:
		return unitDays
	case abs <= 1_000_000_000_000:
		return unitSeconds
	default:
		return unitNanos
	}
}

type timestampUnit int

const (
	unitDays timestampUnit = iota
	unitSeconds
	unitNanos
)
