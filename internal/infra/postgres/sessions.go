package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-trainer-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

const pgUniqueViolation = "23505"

func (s *Store) CreateSession(ctx context.Context, userUUID string, mode domain.Mode, token string, questionIDs []int64) (int64, error) {
	ids, err := json.Marshal(questionIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal question ids: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (uuid, total_sessions) VALUES ($1, 1)
		ON CONFLICT (uuid) DO UPDATE SET
			last_seen = now(),
			total_sessions = users.total_sessions + 1`, userUUID)
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (user_uuid, mode, session_token, question_ids)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, userUUID, string(mode), token, ids).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, domain.ErrDuplicateToken
		}
		return 0, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) Session(ctx context.Context, id int64) (domain.Session, error) {
	var (
		session domain.Session
		mode    string
		endTime *time.Time
		rawIDs  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_uuid, mode, start_time, end_time,
		       correct_answers, wrong_answers, percentage,
		       session_token, question_ids, current_question_index,
		       dispensed_through, focus_switches
		FROM sessions WHERE id = $1`, id).Scan(
		&session.ID, &session.UserUUID, &mode, &session.StartTime, &endTime,
		&session.Correct, &session.Wrong, &session.Percentage,
		&session.Token, &rawIDs, &session.Cursor,
		&session.Dispensed, &session.FocusSwitches,
	)
	if err == pgx.ErrNoRows {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	session.Mode = domain.Mode(mode)
	session.EndTime = endTime
	if err := json.Unmarshal(rawIDs, &session.QuestionIDs); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal question ids: %w", err)
	}
	return session, nil
}

func (s *Store) MarkDispensed(ctx context.Context, id int64, index int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET dispensed_through = $2 + 1
		WHERE id = $1 AND dispensed_through <= $2`, id, index)
	if err != nil {
		return false, fmt.Errorf("mark dispensed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAnswer runs the answer event insert, the stats upsert and the
// optimistic cursor advance as one transaction. A cursor that already moved
// past expectedCursor rolls everything back with domain.ErrConflict.
func (s *Store) RecordAnswer(ctx context.Context, sessionID int64, expectedCursor int, questionID int64, correct bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET
			current_question_index = $2 + 1,
			correct_answers = correct_answers + $3,
			wrong_answers = wrong_answers + $4
		WHERE id = $1 AND current_question_index = $2 AND end_time IS NULL`,
		sessionID, expectedCursor, boolToInt(correct), boolToInt(!correct))
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO answers (session_id, question_id, is_correct)
		VALUES ($1, $2, $3)`, sessionID, questionID, correct)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	if _, err := tx.Exec(ctx, outcomeUpsertSQL, questionID, boolToInt(!correct)); err != nil {
		return fmt.Errorf("update question stats: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) AddFocusSwitch(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET focus_switches = focus_switches + 1
		WHERE id = $1`, id)
	return err
}

func (s *Store) CloseSession(ctx context.Context, id int64, correct, wrong int, percentage float64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET
			end_time = now(),
			correct_answers = $2,
			wrong_answers = $3,
			percentage = $4
		WHERE id = $1 AND end_time IS NULL`, id, correct, wrong, percentage)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AnswerTotals(ctx context.Context, sessionID int64) (int, int, error) {
	var correct, wrong int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE is_correct),
		       COUNT(*) FILTER (WHERE NOT is_correct)
		FROM answers WHERE session_id = $1`, sessionID).Scan(&correct, &wrong)
	if err != nil {
		return 0, 0, fmt.Errorf("count answers: %w", err)
	}
	return correct, wrong, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
