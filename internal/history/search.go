package history

import (
	"sort"

	"github.com/fyrsmithlabs/rulelearn/internal/similarity"
	"github.com/fyrsmithlabs/rulelearn/internal/sqlpattern"
)

// MinSearchSimilarity is the keyword similarity a record needs to be
// returned by SearchHistory.
const MinSearchSimilarity = 0.3

type scoredRecord struct {
	record AnalysisRecord
	score  float64
}

// rankRecords applies q to records: date filter, similarity ranking against
// the normalized query SQL, then the limit. An empty q.SQL keeps every
// record, newest first.
func rankRecords(records []AnalysisRecord, q SearchQuery) []AnalysisRecord {
	queryKey := sqlpattern.Normalize(q.SQL)

	scored := make([]scoredRecord, 0, len(records))
	for _, r := range records {
		if !q.DateFrom.IsZero() && r.Timestamp.Before(q.DateFrom) {
			continue
		}
		if queryKey == "" {
			scored = append(scored, scoredRecord{record: r, score: 1})
			continue
		}
		score := similarity.Keyword(queryKey, sqlpattern.Normalize(r.SQL))
		if score < MinSearchSimilarity {
			continue
		}
		scored = append(scored, scoredRecord{record: r, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].record.Timestamp.After(scored[j].record.Timestamp)
	})

	if q.Limit > 0 && len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}

	out := make([]AnalysisRecord, len(scored))
	for i, s := range scored {
		out[i] = s.record
	}
	return out
}
