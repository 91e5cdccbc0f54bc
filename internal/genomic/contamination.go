package genomic

import (
	"math"

	"genomicore/pkg/domain"
)

// Thresholds bound the contamination categories.
type Thresholds struct {
	NoExtractMax  float64
	ExtractWGSMax float64
}

// DefaultThresholds returns the production cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{NoExtractMax: 0.01, ExtractWGSMax: 0.03}
}

// ContaminationCategory classifies a contamination score. Negative and NaN
// scores are treated as zero. A sample whose tube already went through a
// re-extraction cannot be extracted again.
func ContaminationCategory(score float64, hasPriorExtraction bool, th Thresholds) domain.ContaminationCategory {
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	switch {
	case score <= th.NoExtractMax:
		return domain.ContaminationNoExtract
	case hasPriorExtraction:
		return domain.ContaminationTerminalNoExtract
	case score <= th.ExtractWGSMax:
		return domain.ContaminationExtractWGS
	default:
		return domain.ContaminationExtractBoth
	}
}

// hasPriorExtraction reports whether another member on the same collection
// tube carries a different sample id, i.e. the tube was extracted before.
func hasPriorExtraction(view domain.TransactionView, member domain.SampleMember) bool {
	if member.CollectionTubeID == "" {
		return false
	}
	for _, other := range view.ListMembersByCollectionTube(member.CollectionTubeID) {
		if other.ID == member.ID || other.GenomeType != member.GenomeType {
			continue
		}
		if other.SampleID != "" && other.SampleID != member.SampleID {
			return true
		}
	}
	return false
}
