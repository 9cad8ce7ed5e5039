package annotation

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/clipper/internal/peak"
)

// gtfFeature represents a parsed GTF/GFF line. Coordinates are converted
// to 0-based half-open.
type gtfFeature struct {
	chrom       string
	featureType string
	start       int64
	end         int64
	strand      string
	attributes  map[string]string
}

// parseLine parses a single GTF or GFF line.
func parseLine(line string) (*gtfFeature, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 9 {
		return nil, fmt.Errorf("invalid GTF line: expected 9 fields, got %d", len(fields))
	}

	start, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}

	end, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}

	return &gtfFeature{
		chrom:       fields[0],
		featureType: fields[2],
		start:       start - 1,
		end:         end,
		strand:      fields[6],
		attributes:  parseAttributes(fields[8]),
	}, nil
}

// parseAttributes parses the attribute column. Both the GTF form
// (key "value"; key "value") and the GFF3 form (key=value;key=value) are accepted.
func parseAttributes(attrStr string) map[string]string {
	attrs := make(map[string]string)

	for _, part := range strings.Split(attrStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.IndexAny(part, " =")
		if idx == -1 {
			continue
		}

		key := part[:idx]
		value := strings.TrimSpace(part[idx+1:])
		attrs[key] = strings.Trim(value, "\"")
	}

	return attrs
}

// transcriptSpan accumulates the exons of one transcript.
type transcriptSpan struct {
	id         string
	geneID     string
	chrom      string
	strand     string
	start      int64
	stop       int64
	mRNALength int64
}

// parseGTF reads exon features and returns the longest transcript of each
// gene in order of first appearance. Transcripts of one gene are not merged.
func parseGTF(r io.Reader, preMRNA bool) ([]peak.GeneRecord, error) {
	scanner := newScanner(r)

	transcripts := make(map[string]*transcriptSpan)
	var order []string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		feat, err := parseLine(line)
		if err != nil {
			continue // Skip malformed lines
		}
		if feat.featureType != "exon" {
			continue
		}

		transcriptID := feat.attributes["transcript_id"]
		if transcriptID == "" {
			continue
		}

		t, ok := transcripts[transcriptID]
		if !ok {
			t = &transcriptSpan{id: transcriptID, start: feat.start, stop: feat.end}
			transcripts[transcriptID] = t
			order = append(order, transcriptID)
		}
		t.start = min(t.start, feat.start)
		t.stop = max(t.stop, feat.end)
		t.chrom = feat.chrom
		t.strand = feat.strand
		t.geneID = feat.attributes["gene_id"]
		t.mRNALength += feat.end - feat.start
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan GTF: %w", err)
	}

	return longestTranscripts(transcripts, order, preMRNA)
}

// longestTranscripts keeps, per gene, the transcript with the largest span.
// Ties keep the transcript seen first.
func longestTranscripts(transcripts map[string]*transcriptSpan, order []string, preMRNA bool) ([]peak.GeneRecord, error) {
	best := make(map[string]*transcriptSpan)
	var genes []string

	for _, id := range order {
		t := transcripts[id]
		cur, ok := best[t.geneID]
		if !ok {
			genes = append(genes, t.geneID)
			best[t.geneID] = t
			continue
		}
		if t.stop-t.start > cur.stop-cur.start {
			best[t.geneID] = t
		}
	}

	records := make([]peak.GeneRecord, 0, len(genes))
	for _, g := range genes {
		t := best[g]
		strand, err := peak.ParseStrand(t.strand)
		if err != nil {
			return nil, fmt.Errorf("transcript %s: %w", t.id, err)
		}

		effective := t.mRNALength
		if preMRNA {
			effective = t.stop - t.start
		}

		records = append(records, peak.GeneRecord{
			ID:              g,
			TranscriptID:    t.id,
			Chrom:           t.chrom,
			Start:           t.start,
			Stop:            t.stop,
			Strand:          strand,
			EffectiveLength: effective,
		})
	}
	return records, nil
}

// parseCompiled reads a precompiled species annotation: one mRNA feature per
// gene carrying gene_id, mrna_length and premrna_length attributes.
func parseCompiled(r io.Reader, preMRNA bool) ([]peak.GeneRecord, error) {
	scanner := newScanner(r)

	var records []peak.GeneRecord
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		feat, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		key := "mrna_length"
		if preMRNA {
			key = "premrna_length"
		}
		effective, err := strconv.ParseInt(feat.attributes[key], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse %s: %w", lineNum, key, err)
		}

		strand, err := peak.ParseStrand(feat.strand)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		records = append(records, peak.GeneRecord{
			ID:              feat.attributes["gene_id"],
			TranscriptID:    feat.attributes["transcript_ids"],
			Chrom:           feat.chrom,
			Start:           feat.start,
			Stop:            feat.end,
			Strand:          strand,
			EffectiveLength: effective,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan annotation: %w", err)
	}
	return records, nil
}
