// Package annotation builds the uniform gene table that peaks are called on.
package annotation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSource is returned when no annotation input was selected.
	ErrNoSource = errors.New(`no annotation selected: set a species, a GTF file, or a custom BED + mRNA + pre-mRNA length triple`)
	// ErrMultipleSources is returned when more than one annotation input was selected.
	ErrMultipleSources = errors.New("more than one annotation source selected")
	// ErrIncompleteCustom is returned when only part of the custom triple is given.
	ErrIncompleteCustom = errors.New("custom annotation requires a BED file, an mRNA length file and a pre-mRNA length file")
)

// UnsupportedSpeciesError reports a species without bundled annotation.
type UnsupportedSpeciesError struct {
	Species string
	Known   []string
}

func (e *UnsupportedSpeciesError) Error() string {
	return fmt.Sprintf("defaults don't exist for species %q, choose from [%s] or supply a custom BED + mRNA + pre-mRNA triple",
		e.Species, strings.Join(e.Known, ", "))
}

// Source is one of the three annotation inputs. Values are only created by
// SpeciesSource, GTFSource, CustomSource or SelectSource.
type Source interface {
	Describe() string
	isSource()
}

// CustomFiles is the custom region + length file triple.
type CustomFiles struct {
	BED     string
	MRNA    string
	PreMRNA string
}

// IsZero reports whether none of the custom files are set.
func (c CustomFiles) IsZero() bool {
	return c.BED == "" && c.MRNA == "" && c.PreMRNA == ""
}

func (c CustomFiles) complete() bool {
	return c.BED != "" && c.MRNA != "" && c.PreMRNA != ""
}

type speciesSource struct{ species string }

func (s speciesSource) Describe() string { return "species " + s.species }
func (speciesSource) isSource()          {}

type gtfSource struct{ path string }

func (s gtfSource) Describe() string { return "GTF " + s.path }
func (gtfSource) isSource()          {}

type customSource struct{ files CustomFiles }

func (s customSource) Describe() string { return "custom BED " + s.files.BED }
func (customSource) isSource()          {}

// SpeciesSource selects the bundled annotation for a species.
func SpeciesSource(species string) Source { return speciesSource{species: species} }

// GTFSource selects a generic transcript GTF file.
func GTFSource(path string) Source { return gtfSource{path: path} }

// CustomSource selects a custom region file with two length files.
func CustomSource(files CustomFiles) (Source, error) {
	if !files.complete() {
		return nil, ErrIncompleteCustom
	}
	return customSource{files: files}, nil
}

// SelectSource picks the single annotation source among the populated inputs.
func SelectSource(species, gtfPath string, custom CustomFiles) (Source, error) {
	selected := 0
	if species != "" {
		selected++
	}
	if gtfPath != "" {
		selected++
	}
	if !custom.IsZero() {
		selected++
	}

	switch {
	case selected == 0:
		return nil, ErrNoSource
	case selected > 1:
		return nil, ErrMultipleSources
	case species != "":
		return SpeciesSource(species), nil
	case gtfPath != "":
		return GTFSource(gtfPath), nil
	default:
		return CustomSource(custom)
	}
}
