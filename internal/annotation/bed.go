package annotation

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/clipper/internal/peak"
)

// parseRegions reads a BED6 region file. A repeated name replaces the
// earlier region but keeps its position in the output.
func parseRegions(r io.Reader) ([]peak.GeneRecord, error) {
	scanner := newScanner(r)

	index := make(map[string]int)
	var records []peak.GeneRecord

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 BED columns, got %d", lineNum, len(fields))
		}

		start, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse start: %w", lineNum, err)
		}
		stop, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse stop: %w", lineNum, err)
		}
		strand, err := peak.ParseStrand(fields[5])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		rec := peak.GeneRecord{
			ID:     fields[3],
			Chrom:  fields[0],
			Start:  start,
			Stop:   stop,
			Strand: strand,
		}
		if i, ok := index[rec.ID]; ok {
			records[i] = rec
			continue
		}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan BED: %w", err)
	}
	return records, nil
}
