package annotation

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrLengthFormat is returned for length files that are not gene<TAB>length.
	ErrLengthFormat = errors.New("length file not formatted correctly, expects two columns gene<tab>length")
	// ErrMissingLength is returned when a region has no entry in the length file.
	ErrMissingLength = errors.New("no length for gene")
)

// Lengths maps gene name -> effective length.
type Lengths map[string]int64

// ReadLengths loads a gene<TAB>length file, plain or gzip-compressed.
// A file that cannot be opened is reported as ErrLengthFormat.
func ReadLengths(path string) (Lengths, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrLengthFormat, path, err)
	}
	defer rc.Close()

	lengths, err := parseLengths(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lengths, nil
}

func parseLengths(r io.Reader) (Lengths, error) {
	lengths := make(Lengths)
	scanner := newScanner(r)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: %w", lineNum, ErrLengthFormat)
		}

		n, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, ErrLengthFormat)
		}
		lengths[fields[0]] = n
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan length file: %w", err)
	}
	return lengths, nil
}
