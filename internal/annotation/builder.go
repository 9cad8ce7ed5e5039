package annotation

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/peak"
)

// Builder turns an annotation Source into a uniform list of gene records.
type Builder struct {
	catalog Catalog
	preMRNA bool
	logger  *zap.Logger
}

// NewBuilder creates a builder that resolves species through catalog.
// catalog may be nil when species sources are not used.
func NewBuilder(catalog Catalog) *Builder {
	return &Builder{
		catalog: catalog,
		logger:  zap.NewNop(),
	}
}

// SetPreMRNA selects pre-mRNA (genomic span) effective lengths instead of mRNA lengths.
func (b *Builder) SetPreMRNA(preMRNA bool) {
	b.preMRNA = preMRNA
}

// SetLogger sets the logger for warning and info messages.
func (b *Builder) SetLogger(l *zap.Logger) {
	b.logger = l
}

// Build loads the selected source. Every returned record has a unique ID and
// a positive effective length; records failing that are dropped with a warning.
func (b *Builder) Build(src Source) ([]peak.GeneRecord, error) {
	var (
		records []peak.GeneRecord
		err     error
	)

	switch s := src.(type) {
	case speciesSource:
		records, err = b.buildSpecies(s.species)
	case gtfSource:
		records, err = b.buildGTF(s.path)
	case customSource:
		records, err = b.buildCustom(s.files)
	case nil:
		return nil, ErrNoSource
	default:
		return nil, fmt.Errorf("unknown annotation source %T", src)
	}
	if err != nil {
		return nil, err
	}

	records = b.validate(records)
	b.logger.Info("built gene annotation",
		zap.String("source", src.Describe()),
		zap.Int("genes", len(records)),
		zap.Bool("premrna", b.preMRNA))
	return records, nil
}

func (b *Builder) buildSpecies(species string) ([]peak.GeneRecord, error) {
	if b.catalog == nil {
		return nil, &UnsupportedSpeciesError{Species: species}
	}

	known, err := b.catalog.Species()
	if err != nil {
		b.logger.Warn("cannot list bundled species", zap.Error(err))
		return nil, &UnsupportedSpeciesError{Species: species}
	}
	if !slices.Contains(known, species) {
		return nil, &UnsupportedSpeciesError{Species: species, Known: known}
	}

	rc, err := b.catalog.Open(species)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := maybeGunzip(rc)
	if err != nil {
		return nil, fmt.Errorf("annotation for %s: %w", species, err)
	}

	records, err := parseCompiled(r, b.preMRNA)
	if err != nil {
		return nil, fmt.Errorf("annotation for %s: %w", species, err)
	}
	return records, nil
}

func (b *Builder) buildGTF(path string) ([]peak.GeneRecord, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, fmt.Errorf("open GTF file: %w", err)
	}
	defer rc.Close()

	records, err := parseGTF(rc, b.preMRNA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func (b *Builder) buildCustom(files CustomFiles) ([]peak.GeneRecord, error) {
	lengthFile := files.MRNA
	if b.preMRNA {
		lengthFile = files.PreMRNA
	}

	lengths, err := ReadLengths(lengthFile)
	if err != nil {
		return nil, err
	}

	rc, err := openText(files.BED)
	if err != nil {
		return nil, fmt.Errorf("open BED file: %w", err)
	}
	defer rc.Close()

	records, err := parseRegions(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", files.BED, err)
	}

	for i := range records {
		n, ok := lengths[records[i].ID]
		if !ok {
			return nil, fmt.Errorf("%w %s in %s", ErrMissingLength, records[i].ID, lengthFile)
		}
		records[i].EffectiveLength = n
	}
	return records, nil
}

// validate drops duplicate IDs and non-positive effective lengths.
func (b *Builder) validate(records []peak.GeneRecord) []peak.GeneRecord {
	seen := make(map[string]bool, len(records))
	out := records[:0]
	for _, r := range records {
		if r.ID == "" || seen[r.ID] {
			b.logger.Warn("skipping duplicate or unnamed gene", zap.String("gene", r.ID))
			continue
		}
		if r.EffectiveLength <= 0 {
			b.logger.Warn("skipping gene with non-positive effective length",
				zap.String("gene", r.ID),
				zap.Int64("effective_length", r.EffectiveLength))
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
