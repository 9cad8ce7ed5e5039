package annotation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const compiledSuffix = ".AS.STRUCTURE.COMPILED.gff"

// Catalog provides the bundled per-species annotation files.
type Catalog interface {
	// Species lists the species with bundled annotation.
	Species() ([]string, error)
	// Open opens the compiled gene annotation for a species.
	Open(species string) (io.ReadCloser, error)
}

// DirCatalog serves bundled annotation from a data directory laid out as
//
//	{dir}/{species}.AS.STRUCTURE.COMPILED.gff
type DirCatalog struct {
	dir string
}

// NewDirCatalog creates a catalog rooted at dir.
func NewDirCatalog(dir string) *DirCatalog {
	return &DirCatalog{dir: dir}
}

// Species implements Catalog.
func (c *DirCatalog) Species() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	var species []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), compiledSuffix); ok {
			species = append(species, name)
		}
	}
	sort.Strings(species)
	return species, nil
}

// Open implements Catalog.
func (c *DirCatalog) Open(species string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(c.dir, species+compiledSuffix))
	if err != nil {
		return nil, fmt.Errorf("open annotation for %s: %w", species, err)
	}
	return f, nil
}
