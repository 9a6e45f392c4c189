package postgres

import (
	"context"
	"fmt"

	"exam-trainer-service/internal/domain"
)

// Both upserts recompute error_rate from the stored counters inside the same
// statement, so the derived value can never drift from them.
const exposureUpsertSQL = `
	INSERT INTO question_stats (question_id, total_shown, total_wrong, error_rate)
	VALUES ($1, 1, 0, 0)
	ON CONFLICT (question_id) DO UPDATE SET
		total_shown = question_stats.total_shown + 1,
		error_rate = question_stats.total_wrong::double precision
			/ (question_stats.total_shown + 1) * 100`

const outcomeUpsertSQL = `
	INSERT INTO question_stats (question_id, total_shown, total_wrong, error_rate)
	VALUES ($1, 0, $2, 0)
	ON CONFLICT (question_id) DO UPDATE SET
		total_wrong = question_stats.total_wrong + $2,
		error_rate = CASE WHEN question_stats.total_shown = 0 THEN 0
			ELSE (question_stats.total_wrong + $2)::double precision
				/ question_stats.total_shown * 100 END`

func (s *Store) RecordExposure(ctx context.Context, questionID int64) error {
	_, err := s.pool.Exec(ctx, exposureUpsertSQL, questionID)
	return err
}

func (s *Store) RecordOutcome(ctx context.Context, questionID int64, correct bool) error {
	_, err := s.pool.Exec(ctx, outcomeUpsertSQL, questionID, boolToInt(!correct))
	return err
}

func (s *Store) TopDifficult(ctx context.Context, limit, minShown int) ([]domain.QuestionStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question_id, total_shown, total_wrong, error_rate
		FROM question_stats
		WHERE total_shown >= $2
		ORDER BY error_rate DESC, total_shown DESC, question_id ASC
		LIMIT $1`, limit, minShown)
	if err != nil {
		return nil, fmt.Errorf("query difficult questions: %w", err)
	}
	defer rows.Close()

	var out []domain.QuestionStat
	for rows.Next() {
		var stat domain.QuestionStat
		if err := rows.Scan(&stat.QuestionID, &stat.TotalShown, &stat.TotalWrong, &stat.ErrorRate); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

func (s *Store) Overall(ctx context.Context) (domain.OverallStats, error) {
	var stats domain.OverallStats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM sessions),
		       (SELECT COUNT(*) FROM users),
		       COALESCE((SELECT AVG(percentage) FROM sessions WHERE end_time IS NOT NULL), 0)`,
	).Scan(&stats.TotalSessions, &stats.TotalUsers, &stats.AveragePercentage)
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("aggregate stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT qs.question_id, qs.total_shown, qs.total_wrong, qs.error_rate,
		       q.question_text, COALESCE(q.document_link, '')
		FROM question_stats qs
		JOIN questions q ON q.question_number = qs.question_id
		WHERE qs.total_shown >= 5
		ORDER BY qs.error_rate DESC, qs.total_shown DESC, qs.question_id ASC
		LIMIT 10`)
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("query top difficult: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.DifficultQuestion
		if err := rows.Scan(&q.QuestionID, &q.TotalShown, &q.TotalWrong, &q.ErrorRate, &q.Text, &q.DocumentLink); err != nil {
			return domain.OverallStats{}, err
		}
		stats.TopDifficult = append(stats.TopDifficult, q)
	}
	return stats, rows.Err()
}
