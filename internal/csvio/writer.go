package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
)

// WriteRows writes a CSV file with the given header, world-readable.
func WriteRows(path string, header []string, rows [][]string) error {
	return writeRows(path, header, rows, 0o644)
}

// WriteSecretRows writes a CSV file readable only by the owner. Use it for
// exports that carry passwords.
func WriteSecretRows(path string, header []string, rows [][]string) error {
	return writeRows(path, header, rows, 0o600)
}

func writeRows(path string, header []string, rows [][]string, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
