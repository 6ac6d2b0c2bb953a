package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStore keeps analysis records as JSON files in one directory.
//
// A file holds either a single record or a JSON array of records. Files that
// cannot be decoded are logged and skipped.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first Save; a missing directory reads as empty history.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("history directory cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// GetAllHistory returns every stored record, oldest first.
func (s *FileStore) GetAllHistory(ctx context.Context) ([]AnalysisRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []AnalysisRecord{}, nil
		}
		return nil, fmt.Errorf("reading history directory: %w", err)
	}

	var records []AnalysisRecord
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !isRecordFile(e.Name()) {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		recs, err := ReadRecordFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable history file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		records = append(records, recs...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, nil
}

// SearchHistory returns records similar to q.SQL.
func (s *FileStore) SearchHistory(ctx context.Context, q SearchQuery) ([]AnalysisRecord, error) {
	all, err := s.GetAllHistory(ctx)
	if err != nil {
		return nil, err
	}
	return rankRecords(all, q), nil
}

// Get loads a single record by id.
func (s *FileStore) Get(ctx context.Context, id string) (*AnalysisRecord, error) {
	recs, err := ReadRecordFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// Save writes record to <id>.json, assigning an id when it has none.
// The file is written to a temp file first and renamed into place.
func (s *FileStore) Save(ctx context.Context, record *AnalysisRecord) error {
	if record == nil || strings.TrimSpace(record.SQL) == "" {
		return fmt.Errorf("%w: sql is required", ErrInvalidRecord)
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if strings.ContainsAny(record.ID, `/\`) {
		return fmt.Errorf("%w: id %q contains a path separator", ErrInvalidRecord, record.ID)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, record.ID+".json")); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming record file: %w", err)
	}

	return nil
}

// ReadRecordFile decodes a JSON file holding one record or an array of them.
func ReadRecordFile(path string) ([]AnalysisRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(data)
}

// DecodeRecords decodes one record or an array of records.
func DecodeRecords(data []byte) ([]AnalysisRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidRecord)
	}

	if trimmed[0] == '[' {
		var recs []AnalysisRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		return recs, nil
	}

	var rec AnalysisRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return []AnalysisRecord{rec}, nil
}

func isRecordFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
