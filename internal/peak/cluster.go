package peak

// Cluster is one candidate peak within a gene as reported by a detector.
type Cluster struct {
	Chrom           string
	GeneID          string
	GenomicStart    int64
	GenomicStop     int64
	ThickStart      int64
	ThickStop       int64
	Strand          int8
	PeakNumber      int
	ReadsInPeak     int64
	ReadsInGene     int64
	EffectiveLength int64
	AreaReads       int64
	AreaSize        int64
	PeakLength      int64 // width used as the Poisson peak size
}

// Size returns the peak size used for rate estimates.
func (c Cluster) Size() int64 {
	if c.PeakLength > 0 {
		return c.PeakLength
	}
	return c.GenomicStop - c.GenomicStart
}

// GeneResult is the outcome of a single task. A nil *GeneResult means absence.
type GeneResult struct {
	GeneID          string
	Chrom           string
	Strand          int8
	Start           int64
	Stop            int64
	NReads          int64
	EffectiveLength int64
	Clusters        []Cluster
}
