package history

import (
	"context"
	"errors"
	"time"
)

func conf(v float64) *float64 { return &v }

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// perfRecord builds a record with a single performance dimension.
func perfRecord(id, sql string, confidence float64, issues ...Issue) AnalysisRecord {
	return AnalysisRecord{
		ID:           id,
		SQL:          sql,
		DatabaseType: "mysql",
		Timestamp:    baseTime,
		Analysis: &Analysis{
			Performance: &PerformanceAnalysis{
				Summary:    "performance summary",
				Issues:     issues,
				Confidence: conf(confidence),
			},
		},
	}
}

var selectStar = Issue{
	Type:        "select_star",
	Severity:    "medium",
	Description: "query selects every column",
	Suggestion:  "list the needed columns",
}

type fakeStore struct {
	records   []AnalysisRecord
	searchErr error
	lastQuery SearchQuery
}

func (f *fakeStore) GetAllHistory(ctx context.Context) ([]AnalysisRecord, error) {
	return f.records, nil
}

func (f *fakeStore) SearchHistory(ctx context.Context, q SearchQuery) ([]AnalysisRecord, error) {
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return rankRecords(f.records, q), nil
}

var errSearch = errors.New("search backend down")
