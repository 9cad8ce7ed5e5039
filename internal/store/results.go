package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inodb/clipper/internal/peak"
)

// ResultsSuffix is appended to the output path to name the saved results file.
const ResultsSuffix = ".all_peaks.gob"

const resultsVersion = 1

// savedResult wraps one scheduler slot; gob cannot encode nil pointers in slices.
type savedResult struct {
	Present bool
	Result  peak.GeneResult
}

type resultsFile struct {
	Version int
	Created time.Time
	Results []savedResult
}

// ResultsPath returns the saved results path for an output file.
func ResultsPath(outfile string) string {
	return outfile + ResultsSuffix
}

// SaveResults serializes per-gene results, including absent slots, to path.
func SaveResults(path string, results []*peak.GeneResult) error {
	data := resultsFile{
		Version: resultsVersion,
		Created: time.Now().UTC(),
		Results: make([]savedResult, len(results)),
	}
	for i, r := range results {
		if r != nil {
			data.Results[i] = savedResult{Present: true, Result: *r}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encode results: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close results file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// LoadResults reads results written by SaveResults. Absent slots are nil.
func LoadResults(path string) ([]*peak.GeneResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()

	var data resultsFile
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if data.Version != resultsVersion {
		return nil, fmt.Errorf("results file %s has version %d, want %d", path, data.Version, resultsVersion)
	}

	results := make([]*peak.GeneResult, len(data.Results))
	for i := range data.Results {
		if data.Results[i].Present {
			results[i] = &data.Results[i].Result
		}
	}
	return results, nil
}
