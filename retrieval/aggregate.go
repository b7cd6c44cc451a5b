package retrieval

import "sort"

// Aggregation selects how chunk scores combine into a file score.
type Aggregation string

const (
	AggMax  Aggregation = "max"
	AggMean Aggregation = "mean"
	AggSum  Aggregation = "sum"
)

// GroupFiles aggregates chunk hits into file hits by document name using the
// requested aggregation, sorted descending by score. Unknown aggregations
// fall back to max. Chunks without a document name are skipped.
func GroupFiles(chunks []ChunkHit, agg Aggregation) []FileHit {
	switch agg {
	case AggMax, AggMean, AggSum:
	default:
		agg = AggMax
	}

	sums := make(map[string]float64)
	maxima := make(map[string]float64)
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, chunk := range chunks {
		name := chunk.DocumentName
		if name == "" {
			continue
		}
		if _, seen := counts[name]; !seen {
			order = append(order, name)
		}
		counts[name]++
		sums[name] += chunk.Score
		if chunk.Score > maxima[name] || counts[name] == 1 {
			maxima[name] = chunk.Score
		}
	}

	hits := make([]FileHit, 0, len(order))
	for _, name := range order {
		var score float64
		switch agg {
		case AggMean:
			score = sums[name] / float64(counts[name])
		case AggSum:
			score = sums[name]
		default:
			score = maxima[name]
		}
		hits = append(hits, FileHit{FileName: name, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits
}
