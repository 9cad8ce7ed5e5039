package annotation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/clipper/internal/peak"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeGzip(t *testing.T, dir, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return writeFile(t, dir, name, buf.String())
}

const testGTF = `##description: test
chr1	HAVANA	gene	1001	5000	.	+	.	gene_id "G1";
chr1	HAVANA	exon	1001	1100	.	+	.	gene_id "G1"; transcript_id "T1";
chr1	HAVANA	exon	1901	2000	.	+	.	gene_id "G1"; transcript_id "T1";
chr1	HAVANA	exon	1001	1050	.	+	.	gene_id "G1"; transcript_id "T2";
chr1	HAVANA	exon	4001	5000	.	+	.	gene_id "G1"; transcript_id "T2";
chr2	HAVANA	exon	301	400	.	-	.	gene_id "G2"; transcript_id "T3";
`

func TestBuild_GTFLongestTranscript(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "genes.gtf", testGTF)

	b := NewBuilder(nil)
	records, err := b.Build(GTFSource(path))
	require.NoError(t, err)
	require.Len(t, records, 2)

	g1 := records[0]
	assert.Equal(t, "G1", g1.ID)
	assert.Equal(t, "T2", g1.TranscriptID)
	assert.Equal(t, int64(1000), g1.Start)
	assert.Equal(t, int64(5000), g1.Stop)
	assert.Equal(t, peak.Forward, g1.Strand)
	assert.Equal(t, int64(50+1000), g1.EffectiveLength)

	g2 := records[1]
	assert.Equal(t, "G2", g2.ID)
	assert.Equal(t, peak.Reverse, g2.Strand)
	assert.Equal(t, int64(100), g2.EffectiveLength)
}

func TestBuild_GTFPreMRNA(t *testing.T) {
	dir := t.TempDir()
	path := writeGzip(t, dir, "genes.gtf.gz", testGTF)

	b := NewBuilder(nil)
	b.SetPreMRNA(true)
	records, err := b.Build(GTFSource(path))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(4000), records[0].EffectiveLength)
	assert.Equal(t, int64(100), records[1].EffectiveLength)
}

func TestBuild_Custom(t *testing.T) {
	dir := t.TempDir()
	files := CustomFiles{
		BED:     writeFile(t, dir, "genes.bed", "chr1\t100\t200\tA\t0\t+\nchr1\t500\t900\tB\t0\t-\n"),
		MRNA:    writeGzip(t, dir, "mrna.len.gz", "A\t80\nB\t150\n"),
		PreMRNA: writeFile(t, dir, "premrna.len", "A\t100\nB\t400\n"),
	}
	src, err := CustomSource(files)
	require.NoError(t, err)

	b := NewBuilder(nil)
	records, err := b.Build(src)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(80), records[0].EffectiveLength)
	assert.Equal(t, int64(150), records[1].EffectiveLength)

	b.SetPreMRNA(true)
	records, err = b.Build(src)
	require.NoError(t, err)
	assert.Equal(t, int64(100), records[0].EffectiveLength)
	assert.Equal(t, int64(400), records[1].EffectiveLength)
}

func TestBuild_CustomMissingLength(t *testing.T) {
	dir := t.TempDir()
	src, err := CustomSource(CustomFiles{
		BED:     writeFile(t, dir, "genes.bed", "chr1\t100\t200\tA\t0\t+\n"),
		MRNA:    writeFile(t, dir, "mrna.len", "Z\t80\n"),
		PreMRNA: writeFile(t, dir, "premrna.len", "Z\t80\n"),
	})
	require.NoError(t, err)

	_, err = NewBuilder(nil).Build(src)
	require.ErrorIs(t, err, ErrMissingLength)
}

func TestBuild_SpeciesCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hg19.AS.STRUCTURE.COMPILED.gff",
		"chr1\tAS_STRUCTURE\tmRNA\t101\t1100\t0\t+\t.\tgene_id=ENSG1;transcript_ids=ENST1,ENST2;mrna_length=400;premrna_length=1000\n"+
			"chr3\tAS_STRUCTURE\tmRNA\t11\t60\t0\t-\t.\tgene_id=ENSG2;mrna_length=0;premrna_length=50\n")
	writeFile(t, dir, "mm9.AS.STRUCTURE.COMPILED.gff", "")

	catalog := NewDirCatalog(dir)
	known, err := catalog.Species()
	require.NoError(t, err)
	assert.Equal(t, []string{"hg19", "mm9"}, known)

	b := NewBuilder(catalog)
	records, err := b.Build(SpeciesSource("hg19"))
	require.NoError(t, err)
	// ENSG2 has a zero mRNA length and is dropped.
	require.Len(t, records, 1)
	assert.Equal(t, "ENSG1", records[0].ID)
	assert.Equal(t, int64(100), records[0].Start)
	assert.Equal(t, int64(400), records[0].EffectiveLength)

	b.SetPreMRNA(true)
	records, err = b.Build(SpeciesSource("hg19"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1000), records[0].EffectiveLength)
}

func TestBuild_UnsupportedSpecies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hg19.AS.STRUCTURE.COMPILED.gff", "")

	_, err := NewBuilder(NewDirCatalog(dir)).Build(SpeciesSource("dm3"))
	var unsupported *UnsupportedSpeciesError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, []string{"hg19"}, unsupported.Known)
}

func TestBuild_OneRecordPerGene(t *testing.T) {
	dir := t.TempDir()
	src, err := CustomSource(CustomFiles{
		BED:     writeFile(t, dir, "genes.bed", "chr1\t100\t200\tA\t0\t+\nchr1\t300\t400\tA\t0\t+\nchr2\t1\t50\tB\t0\t-\n"),
		MRNA:    writeFile(t, dir, "mrna.len", "A\t10\nB\t20\n"),
		PreMRNA: writeFile(t, dir, "premrna.len", "A\t10\nB\t20\n"),
	})
	require.NoError(t, err)

	records, err := NewBuilder(nil).Build(src)
	require.NoError(t, err)

	ids := make(map[string]int)
	for _, r := range records {
		ids[r.ID]++
		assert.Positive(t, r.EffectiveLength)
	}
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, ids)
	assert.Equal(t, int64(300), records[0].Start, "repeated name keeps the later region")
}

func TestParseLengths(t *testing.T) {
	lengths, err := parseLengths(strings.NewReader("A\t10\n\nB\t20\n"))
	require.NoError(t, err)
	assert.Equal(t, Lengths{"A": 10, "B": 20}, lengths)

	_, err = parseLengths(strings.NewReader("A 10\n"))
	require.ErrorIs(t, err, ErrLengthFormat)

	_, err = parseLengths(strings.NewReader("A\tten\n"))
	require.ErrorIs(t, err, ErrLengthFormat)
}

func TestReadLengths_Missing(t *testing.T) {
	_, err := ReadLengths(filepath.Join(t.TempDir(), "nope.len"))
	require.ErrorIs(t, err, ErrLengthFormat)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild_MissingDataDir(t *testing.T) {
	catalog := NewDirCatalog(filepath.Join(t.TempDir(), "absent"))
	_, err := NewBuilder(catalog).Build(SpeciesSource("hg19"))
	var unsupported *UnsupportedSpeciesError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "hg19", unsupported.Species)
	assert.Empty(t, unsupported.Known)
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]string
	}{
		{
			name:     "gtf",
			input:    `gene_id "ENSG00000133703"; transcript_id "ENST00000311936";`,
			expected: map[string]string{"gene_id": "ENSG00000133703", "transcript_id": "ENST00000311936"},
		},
		{
			name:     "gff3",
			input:    `gene_id=ENSG1;effective_length=120`,
			expected: map[string]string{"gene_id": "ENSG1", "effective_length": "120"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseAttributes(tt.input)
			for key, want := range tt.expected {
				assert.Equal(t, want, result[key], "parseAttributes()[%q]", key)
			}
		})
	}
}
