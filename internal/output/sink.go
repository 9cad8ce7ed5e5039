package output

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// Sink is a destination for the peak file. Data is visible at the destination
// only after a successful Close.
type Sink struct {
	write  func([]byte) (int, error)
	commit func() error
	abort  func()
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	return s.write(p)
}

// Close commits the written data.
func (s *Sink) Close() error {
	return s.commit()
}

// Abort discards the written data.
func (s *Sink) Abort() {
	s.abort()
}

// IsURL reports whether dest names a bucket object rather than a local path.
func IsURL(dest string) bool {
	return strings.Contains(dest, "://")
}

// OpenSink opens dest for writing. dest is either a local path or a bucket
// URL such as s3://bucket/peaks.bed, gs://bucket/peaks.bed or
// file:///data/peaks.bed.
func OpenSink(ctx context.Context, dest string) (*Sink, error) {
	if IsURL(dest) {
		return openBlob(ctx, dest)
	}
	return openLocal(dest)
}

func openLocal(dest string) (*Sink, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Write atomically using temp file + rename
	f, err := os.CreateTemp(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", dest, err)
	}
	tempPath := f.Name()

	return &Sink{
		write: f.Write,
		commit: func() error {
			if err := f.Close(); err != nil {
				os.Remove(tempPath)
				return fmt.Errorf("close %s: %w", tempPath, err)
			}
			if err := os.Rename(tempPath, dest); err != nil {
				os.Remove(tempPath)
				return fmt.Errorf("rename %s to %s: %w", tempPath, dest, err)
			}
			return nil
		},
		abort: func() {
			f.Close()
			os.Remove(tempPath)
		},
	}, nil
}

// SplitURL splits an object URL into its bucket URL and object key.
func SplitURL(dest string) (bucketURL, key string, err error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", "", fmt.Errorf("parse output URL %s: %w", dest, err)
	}

	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", fmt.Errorf("output URL %s has no object name", dest)
		}
		b := *u
		b.Path = strings.TrimSuffix(dir, "/")
		if b.Path == "" {
			b.Path = "/"
		}
		return b.String(), base, nil
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("output URL %s has no object name", dest)
	}
	b := *u
	b.Path = ""
	return b.String(), key, nil
}

func openBlob(ctx context.Context, dest string) (*Sink, error) {
	bucketURL, key, err := SplitURL(dest)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: "text/plain"})
	if err != nil {
		cancel()
		bucket.Close()
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}

	return &Sink{
		write: w.Write,
		commit: func() error {
			defer bucket.Close()
			defer cancel()
			if err := w.Close(); err != nil {
				return fmt.Errorf("close writer for %s: %w", key, err)
			}
			return nil
		},
		abort: func() {
			// Cancelling before Close discards the object.
			cancel()
			w.Close()
			bucket.Close()
		},
	}, nil
}

// WritePeaks sorts lines and writes them to dest.
func WritePeaks(ctx context.Context, dest string, lines []string) error {
	sink, err := OpenSink(ctx, dest)
	if err != nil {
		return err
	}
	pw := NewPeakWriter(sink)
	if err := pw.WriteAll(lines); err != nil {
		sink.Abort()
		return err
	}
	if err := pw.Flush(); err != nil {
		sink.Abort()
		return err
	}
	return sink.Close()
}
