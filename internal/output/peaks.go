// Package output writes significant peaks to local files or bucket objects.
package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PeakWriter writes peak lines sorted by chromosome, start and stop.
type PeakWriter struct {
	w *bufio.Writer
}

// NewPeakWriter creates a writer on w.
func NewPeakWriter(w io.Writer) *PeakWriter {
	return &PeakWriter{w: bufio.NewWriter(w)}
}

type peakKey struct {
	chrom       string
	start, stop int64
}

func parseKey(line string) (peakKey, error) {
	fields := strings.SplitN(line, "\t", 4)
	if len(fields) < 3 {
		return peakKey{}, fmt.Errorf("peak line has %d fields: %q", len(fields), line)
	}
	start, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return peakKey{}, fmt.Errorf("peak start %q: %w", fields[1], err)
	}
	stop, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return peakKey{}, fmt.Errorf("peak stop %q: %w", fields[2], err)
	}
	return peakKey{chrom: fields[0], start: start, stop: stop}, nil
}

// SortPeaks sorts lines by chromosome name, then numeric start, then numeric
// stop. Lines with equal keys keep their relative order.
func SortPeaks(lines []string) error {
	keys := make(map[string]peakKey, len(lines))
	for _, l := range lines {
		if _, ok := keys[l]; ok {
			continue
		}
		k, err := parseKey(l)
		if err != nil {
			return err
		}
		keys[l] = k
	}
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := keys[lines[i]], keys[lines[j]]
		if a.chrom != b.chrom {
			return a.chrom < b.chrom
		}
		if a.start != b.start {
			return a.start < b.start
		}
		return a.stop < b.stop
	})
	return nil
}

// WriteAll sorts lines and writes one per line. An empty slice writes nothing.
func (pw *PeakWriter) WriteAll(lines []string) error {
	sorted := append([]string(nil), lines...)
	if err := SortPeaks(sorted); err != nil {
		return err
	}
	for _, l := range sorted {
		if _, err := pw.w.WriteString(l); err != nil {
			return err
		}
		if err := pw.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes any buffered data.
func (pw *PeakWriter) Flush() error {
	return pw.w.Flush()
}
