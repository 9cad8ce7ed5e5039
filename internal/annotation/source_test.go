package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSource(t *testing.T) {
	custom := CustomFiles{BED: "genes.bed", MRNA: "mrna.len", PreMRNA: "premrna.len"}

	tests := []struct {
		name    string
		species string
		gtf     string
		custom  CustomFiles
		want    Source
		wantErr error
	}{
		{name: "none", wantErr: ErrNoSource},
		{name: "species", species: "hg19", want: SpeciesSource("hg19")},
		{name: "gtf", gtf: "genes.gtf", want: GTFSource("genes.gtf")},
		{name: "custom", custom: custom, want: customSource{files: custom}},
		{name: "species and gtf", species: "hg19", gtf: "genes.gtf", wantErr: ErrMultipleSources},
		{name: "species and custom", species: "mm9", custom: custom, wantErr: ErrMultipleSources},
		{name: "all three", species: "mm9", gtf: "genes.gtf", custom: custom, wantErr: ErrMultipleSources},
		{name: "partial custom", custom: CustomFiles{BED: "genes.bed"}, wantErr: ErrIncompleteCustom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := SelectSource(tt.species, tt.gtf, tt.custom)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, src)
		})
	}
}

func TestUnsupportedSpeciesError(t *testing.T) {
	err := &UnsupportedSpeciesError{Species: "dm3", Known: []string{"hg19", "mm9"}}
	assert.Contains(t, err.Error(), `"dm3"`)
	assert.Contains(t, err.Error(), "hg19, mm9")
}
