package alignment

import (
	"errors"
	"fmt"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
)

// Read is the part of an alignment used for peak calling.
type Read struct {
	Start  int64 // 0-based
	End    int64 // exclusive
	Strand int8
}

// Reader fetches reads overlapping a region from an indexed BAM file.
// A Reader is not safe for concurrent use; open one per worker or task.
type Reader struct {
	f    *os.File
	br   *bam.Reader
	idx  *bam.Index
	refs map[string]*sam.Reference
}

// Open opens a BAM file and its BAI index read-only.
func Open(path string) (*Reader, error) {
	idxFile, err := os.Open(IndexPath(path))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	idx, err := bam.ReadIndex(idxFile)
	idxFile.Close()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bam: %w", err)
	}
	br, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open bam reader: %w", err)
	}

	refs := make(map[string]*sam.Reference)
	for _, ref := range br.Header().Refs() {
		refs[ref.Name()] = ref
	}

	return &Reader{f: f, br: br, idx: idx, refs: refs}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	r.br.Close()
	return r.f.Close()
}

// Fetch returns the mapped reads overlapping [start, stop) on chrom.
// An unknown chromosome, a chromosome without indexed reads, or a region past
// the last indexed read yields no reads.
func (r *Reader) Fetch(chrom string, start, stop int64) ([]Read, error) {
	ref, ok := r.refs[chrom]
	if !ok {
		return nil, nil
	}

	chunks, err := r.idx.Chunks(ref, int(start), int(stop))
	if errors.Is(err, index.ErrNoReference) || errors.Is(err, index.ErrInvalid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index chunks for %s:%d-%d: %w", chrom, start, stop, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	it, err := bam.NewIterator(r.br, chunks)
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer it.Close()

	var reads []Read
	for it.Next() {
		rec := it.Record()
		if rec.Flags&sam.Unmapped != 0 {
			continue
		}
		end := int64(rec.End())
		pos := int64(rec.Pos)
		if end <= start || pos >= stop {
			continue
		}
		reads = append(reads, Read{Start: pos, End: end, Strand: rec.Strand()})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s:%d-%d: %w", chrom, start, stop, err)
	}
	return reads, nil
}
