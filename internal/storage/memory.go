package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fewseg/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.EvalRunRecord
	reports     map[string]model.EvalReportRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.EvalRunRecord)
	s.reports = make(map[string]model.EvalReportRecord)
	return nil
}

func (s *MemoryStore) SaveEvalRun(_ context.Context, record model.EvalRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[runKey(record.EvalID, record.RunIndex)] = record
	return nil
}

func (s *MemoryStore) GetEvalRun(_ context.Context, evalID string, runIndex int) (model.EvalRunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.runs[runKey(evalID, runIndex)]
	return record, ok, nil
}

func (s *MemoryStore) ListEvalRuns(_ context.Context, evalID string) ([]model.EvalRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.EvalRunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		if record.EvalID == evalID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].RunIndex < records[j].RunIndex })
	return records, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, record model.EvalReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[record.EvalID] = record
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, evalID string) (model.EvalReportRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.reports[evalID]
	return record, ok, nil
}

func (s *MemoryStore) ListReports(_ context.Context) ([]model.EvalReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.EvalReportRecord, 0, len(s.reports))
	for _, record := range s.reports {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EvalID < records[j].EvalID })
	return records, nil
}

func runKey(evalID string, runIndex int) string {
	return fmt.Sprintf("%s/%d", evalID, runIndex)
}
