package bundle

import (
	"fmt"
	"os"
)

func mkdirAllBundle(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: mkdir %q: %w", dir, err)
	}
	return nil
}
