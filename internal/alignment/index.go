// Package alignment provides read access to indexed BAM files.
package alignment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the alignment file does not exist.
	ErrNotFound = errors.New("alignment file does not exist")
	// ErrUnindexable is returned for files that have no index and cannot be indexed.
	ErrUnindexable = errors.New("alignment file not of correct type")
)

// IndexPath returns the BAI path for a BAM file.
func IndexPath(path string) string {
	return path + ".bai"
}

// EnsureIndex checks that path has a BAI index and creates one if it is
// missing. Only files ending in .bam are indexed.
func EnsureIndex(path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("stat alignment file: %w", err)
	}

	if _, err := os.Stat(IndexPath(path)); err == nil {
		return nil
	}

	if !strings.HasSuffix(path, ".bam") {
		return fmt.Errorf("%w: %s", ErrUnindexable, path)
	}

	logger.Info("index does not exist, indexing bam file", zap.String("bam", path))
	if err := BuildIndex(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnindexable, path, err)
	}
	return nil
}

// BuildIndex writes a BAI index next to a coordinate-sorted BAM file.
func BuildIndex(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bam: %w", err)
	}
	defer f.Close()

	ok, err := bgzf.HasEOF(f)
	if err != nil {
		return fmt.Errorf("check bgzf EOF block: %w", err)
	}
	if !ok {
		return errors.New("missing bgzf EOF block")
	}

	br, err := bam.NewReader(f, 1)
	if err != nil {
		return fmt.Errorf("open bam reader: %w", err)
	}
	defer br.Close()

	var idx bam.Index
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if err := idx.Add(rec, br.LastChunk()); err != nil {
			return fmt.Errorf("index record %s: %w", rec.Name, err)
		}
	}

	tmp := IndexPath(path) + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := bam.WriteIndex(out, &idx); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write index: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp, IndexPath(path)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}
