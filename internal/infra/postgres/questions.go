package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"exam-trainer-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Catalog reads the question catalog from Postgres. It also satisfies the
// loader contract of the Redis cache, which usually fronts it.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := c.pool.Query(ctx, `SELECT question_number FROM questions ORDER BY question_number`)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Catalog) Load(ctx context.Context, id int64) (domain.QuestionRecord, error) {
	var (
		record     domain.QuestionRecord
		rawAnswers []byte
	)
	err := c.pool.QueryRow(ctx, `
		SELECT question_number, question_text, answers,
		       correct_answer_id, correct_answer_text,
		       COALESCE(document_link, ''), COALESCE(document_text, ''), COALESCE(image_url, '')
		FROM questions WHERE question_number = $1`, id).Scan(
		&record.ID, &record.Text, &rawAnswers,
		&record.CorrectAnswerID, &record.CorrectAnswerText,
		&record.DocumentLink, &record.DocumentText, &record.ImageRef,
	)
	if err == pgx.ErrNoRows {
		return domain.QuestionRecord{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.QuestionRecord{}, fmt.Errorf("load question %d: %w", id, err)
	}
	if err := json.Unmarshal(rawAnswers, &record.Answers); err != nil {
		return domain.QuestionRecord{}, fmt.Errorf("unmarshal answers for question %d: %w", id, err)
	}
	return record, nil
}

func (c *Catalog) Public(ctx context.Context, id int64) (domain.Question, error) {
	record, err := c.Load(ctx, id)
	if err != nil {
		return domain.Question{}, err
	}
	return record.Public(), nil
}

func (c *Catalog) AnswerKey(ctx context.Context, id int64) (domain.AnswerKey, error) {
	record, err := c.Load(ctx, id)
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return record.Key(), nil
}
