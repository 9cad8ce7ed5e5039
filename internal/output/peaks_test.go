package output

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeakWriter_SortsLines(t *testing.T) {
	lines := []string{
		"chr2\t50\t90\tG3_1_5\t0.01\t+\t60\t61",
		"chr10\t5\t9\tG9_1_5\t0.01\t-\t6\t7",
		"chr1\t100\t200\tG1_2_8\t0.001\t+\t150\t151",
		"chr1\t100\t150\tG1_1_8\t0.002\t+\t120\t121",
		"chr1\t20\t40\tG0_1_3\t0.04\t-\t30\t31",
	}

	var buf bytes.Buffer
	w := NewPeakWriter(&buf)
	require.NoError(t, w.WriteAll(lines))
	require.NoError(t, w.Flush())

	want := "chr1\t20\t40\tG0_1_3\t0.04\t-\t30\t31\n" +
		"chr1\t100\t150\tG1_1_8\t0.002\t+\t120\t121\n" +
		"chr1\t100\t200\tG1_2_8\t0.001\t+\t150\t151\n" +
		"chr10\t5\t9\tG9_1_5\t0.01\t-\t6\t7\n" +
		"chr2\t50\t90\tG3_1_5\t0.01\t+\t60\t61\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, "chr2\t50\t90\tG3_1_5\t0.01\t+\t60\t61", lines[0], "input not reordered")
}

func TestPeakWriter_Empty(t *testing.T) {
	var buf bytes.Buffer
	w := NewPeakWriter(&buf)
	require.NoError(t, w.WriteAll(nil))
	require.NoError(t, w.Flush())
	assert.Empty(t, buf.String())
}

func TestPeakWriter_BadLine(t *testing.T) {
	var buf bytes.Buffer
	err := NewPeakWriter(&buf).WriteAll([]string{"chr1\tx\t10"})
	assert.Error(t, err)
}

func TestWritePeaks_LocalFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "peaks.bed")
	lines := []string{"chr1\t30\t40\tB_1_3\t0.01\t+\t35\t36", "chr1\t10\t20\tA_1_3\t0.01\t+\t15\t16"}

	require.NoError(t, WritePeaks(context.Background(), dest, lines))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, lines[1]+"\n"+lines[0]+"\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed")
}

func TestWritePeaks_BadLineLeavesNoFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "peaks.bed")
	err := WritePeaks(context.Background(), dest, []string{"garbage"})
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWritePeaks_FileBucket(t *testing.T) {
	dir := t.TempDir()
	line := "chr1\t10\t20\tA_1_3\t0.01\t+\t15\t16"

	require.NoError(t, WritePeaks(context.Background(), "file://"+filepath.ToSlash(dir)+"/peaks.bed", []string{line}))

	data, err := os.ReadFile(filepath.Join(dir, "peaks.bed"))
	require.NoError(t, err)
	assert.Equal(t, line+"\n", string(data))
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		dest, bucket, key string
	}{
		{"s3://my-bucket/runs/peaks.bed?region=us-east-1", "s3://my-bucket?region=us-east-1", "runs/peaks.bed"},
		{"gs://bucket/peaks.bed", "gs://bucket", "peaks.bed"},
		{"file:///data/out/peaks.bed", "file:///data/out", "peaks.bed"},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			bucket, key, err := SplitURL(tt.dest)
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}

	_, _, err := SplitURL("s3://bucket")
	assert.Error(t, err)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("s3://b/k"))
	assert.False(t, IsURL("/tmp/peaks.bed"))
	assert.False(t, IsURL("peaks.bed"))
}
