package graph

import (
	"fmt"
	"os"
)

// WriteFile encodes g and writes it to path atomically: the payload goes to
// a temp file that is renamed into place only after a successful close.
func WriteFile(path string, g *Graph) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadFile reads and decodes a graph written by WriteFile.
func ReadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return Decode(data)
}
