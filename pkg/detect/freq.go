package detect

import (
	"connscope/internal/models"
)

// IPFrequencyIndex maps an origin host to its record count within one batch.
// It is built fresh per evaluation and discarded afterwards.
type IPFrequencyIndex map[string]int

// OriginCounts builds the frequency index over the batch in one linear pass.
// Records without an origin host are left out: a missing value never counts
// toward a volume match.
func OriginCounts(records []models.ConnRecord) IPFrequencyIndex {
	index := make(IPFrequencyIndex)
	for i := range records {
		if records[i].OriginHost == nil {
			continue
		}
		index[records[i].OriginHost.String()]++
	}
	return index
}

// MatchingHosts returns the hosts whose count is strictly greater than the
// threshold. A host with exactly threshold records is not excessive.
func MatchingHosts(index IPFrequencyIndex, threshold int) map[string]struct{} {
	hosts := make(map[string]struct{})
	for host, count := range index {
		if count > threshold {
			hosts[host] = struct{}{}
		}
	}
	return hosts
}
