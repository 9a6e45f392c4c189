package memory

import (
	"context"
	"sort"

	"exam-trainer-service/internal/domain"
)

// StaticCatalog is a question catalog backed by an in-memory map (useful for
// tests and the no-database demo mode).
type StaticCatalog struct {
	records map[int64]domain.QuestionRecord
	ids     []int64
}

func NewStaticCatalog(records []domain.QuestionRecord) *StaticCatalog {
	byID := make(map[int64]domain.QuestionRecord, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &StaticCatalog{records: byID, ids: ids}
}

func (c *StaticCatalog) ListIDs(_ context.Context) ([]int64, error) {
	out := make([]int64, len(c.ids))
	copy(out, c.ids)
	return out, nil
}

func (c *StaticCatalog) Public(_ context.Context, id int64) (domain.Question, error) {
	record, ok := c.records[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return record.Public(), nil
}

func (c *StaticCatalog) AnswerKey(_ context.Context, id int64) (domain.AnswerKey, error) {
	record, ok := c.records[id]
	if !ok {
		return domain.AnswerKey{}, domain.ErrQuestionNotFound
	}
	return record.Key(), nil
}

// Load satisfies the cache loader contract so the Redis cache can sit in
// front of a static catalog in tests.
func (c *StaticCatalog) Load(_ context.Context, id int64) (domain.QuestionRecord, error) {
	record, ok := c.records[id]
	if !ok {
		return domain.QuestionRecord{}, domain.ErrQuestionNotFound
	}
	return record, nil
}
