package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"

	"exam-trainer-service/internal/domain"
	"github.com/google/uuid"
)

// QuestionCatalog exposes the read-only question catalog. Implementations
// must keep the two projections apart: Public never contains the answer key.
type QuestionCatalog interface {
	ListIDs(ctx context.Context) ([]int64, error)
	Public(ctx context.Context, id int64) (domain.Question, error)
	AnswerKey(ctx context.Context, id int64) (domain.AnswerKey, error)
}

// SessionStore persists sessions and their answer events.
type SessionStore interface {
	// CreateSession upserts the user row and inserts the session. Returns
	// the new session id.
	CreateSession(ctx context.Context, userUUID string, mode domain.Mode, token string, questionIDs []int64) (int64, error)
	Session(ctx context.Context, id int64) (domain.Session, error)
	// MarkDispensed advances the dispense watermark to index+1 and reports
	// whether this call was the first to do so.
	MarkDispensed(ctx context.Context, id int64, index int) (bool, error)
	// RecordAnswer appends the answer event, updates the question's wrong
	// counter and advances the cursor from expectedCursor by one, all as a
	// single atomic unit. Returns domain.ErrConflict if the cursor moved.
	RecordAnswer(ctx context.Context, sessionID int64, expectedCursor int, questionID int64, correct bool) error
	AddFocusSwitch(ctx context.Context, id int64) error
	// CloseSession sets the end timestamp and final counters. Reports false
	// if the session was already closed.
	CloseSession(ctx context.Context, id int64, correct, wrong int, percentage float64) (bool, error)
	// AnswerTotals recomputes correct/wrong counts from the answer events.
	AnswerTotals(ctx context.Context, sessionID int64) (correct, wrong int, err error)
}

// StatsStore maintains per-question exposure/error counters. Increments must
// be single atomic upserts; the error rate is recomputed in the same write.
type StatsStore interface {
	RecordExposure(ctx context.Context, questionID int64) error
	RecordOutcome(ctx context.Context, questionID int64, correct bool) error
	TopDifficult(ctx context.Context, limit, minShown int) ([]domain.QuestionStat, error)
	Overall(ctx context.Context) (domain.OverallStats, error)
}

// DefaultTestSize is how many questions a test-mode session draws, capped by
// the catalog size.
const DefaultTestSize = 45

// SessionService implements the token-gated one-question-at-a-time protocol.
type SessionService struct {
	sessions SessionStore
	stats    StatsStore
	catalog  QuestionCatalog
	testSize int
	log      *slog.Logger
}

func NewSessionService(sessions SessionStore, stats StatsStore, catalog QuestionCatalog, testSize int, log *slog.Logger) *SessionService {
	if testSize <= 0 {
		testSize = DefaultTestSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionService{
		sessions: sessions,
		stats:    stats,
		catalog:  catalog,
		testSize: testSize,
		log:      log,
	}
}

// CreatedSession is the response of Create; the token is returned exactly once.
type CreatedSession struct {
	SessionID      int64
	SessionToken   string
	TotalQuestions int
}

// Create starts a session for the given user and mode.
func (s *SessionService) Create(ctx context.Context, userUUID string, mode domain.Mode) (CreatedSession, error) {
	if !mode.Valid() {
		return CreatedSession{}, fmt.Errorf("%w: mode must be training or test", domain.ErrInvalidArgument)
	}
	parsed, err := uuid.Parse(userUUID)
	if err != nil {
		return CreatedSession{}, fmt.Errorf("%w: userUuid is not a UUID", domain.ErrInvalidArgument)
	}

	ids, err := s.questionIDsForMode(ctx, mode)
	if err != nil {
		return CreatedSession{}, err
	}

	// The token is unique by database constraint; regenerate on the
	// astronomically unlikely collision.
	for attempt := 0; ; attempt++ {
		token, err := newSessionToken()
		if err != nil {
			return CreatedSession{}, err
		}
		id, err := s.sessions.CreateSession(ctx, parsed.String(), mode, token, ids)
		if errors.Is(err, domain.ErrDuplicateToken) && attempt < 2 {
			continue
		}
		if err != nil {
			return CreatedSession{}, err
		}
		return CreatedSession{SessionID: id, SessionToken: token, TotalQuestions: len(ids)}, nil
	}
}

func (s *SessionService) questionIDsForMode(ctx context.Context, mode domain.Mode) ([]int64, error) {
	ids, err := s.catalog.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	if mode == domain.ModeTraining {
		return ids, nil
	}
	shuffled := make([]int64, len(ids))
	copy(shuffled, ids)
	mrand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > s.testSize {
		shuffled = shuffled[:s.testSize]
	}
	return shuffled, nil
}

// NextQuestionResult carries either the next public question or the
// completed sentinel once the cursor passed the last question.
type NextQuestionResult struct {
	Completed      bool
	QuestionIndex  int // 1-based position shown to the client
	TotalQuestions int
	Question       domain.Question
}

// NextQuestion returns the question at the session cursor without advancing
// it. Exposure is counted once per (session, question) dispensation, so a
// client retrying the fetch does not inflate the shown counter.
func (s *SessionService) NextQuestion(ctx context.Context, sessionID int64, token string) (NextQuestionResult, error) {
	session, err := s.authorize(ctx, sessionID, token)
	if err != nil {
		return NextQuestionResult{}, err
	}
	if session.Closed() {
		return NextQuestionResult{}, domain.ErrSessionClosed
	}
	if session.Cursor >= len(session.QuestionIDs) {
		return NextQuestionResult{Completed: true}, nil
	}

	questionID := session.QuestionIDs[session.Cursor]
	question, err := s.catalog.Public(ctx, questionID)
	if err != nil {
		return NextQuestionResult{}, err
	}

	first, err := s.sessions.MarkDispensed(ctx, session.ID, session.Cursor)
	if err != nil {
		return NextQuestionResult{}, err
	}
	if first {
		if err := s.stats.RecordExposure(ctx, questionID); err != nil {
			// Stats must never break question delivery.
			s.log.Error("record exposure failed", "question", questionID, "err", err)
		}
	}

	return NextQuestionResult{
		QuestionIndex:  session.Cursor + 1,
		TotalQuestions: len(session.QuestionIDs),
		Question:       question,
	}, nil
}

// SubmitResult reveals the answer key for the submitted question.
type SubmitResult struct {
	Correct           bool
	CorrectAnswerID   int64
	CorrectAnswerText string
}

// SubmitAnswer validates the submission server-side, records the answer event
// plus stats update atomically and advances the cursor by exactly one.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID int64, token string, questionID, answerID int64) (SubmitResult, error) {
	session, err := s.authorize(ctx, sessionID, token)
	if err != nil {
		return SubmitResult{}, err
	}
	if session.Closed() {
		return SubmitResult{}, domain.ErrSessionClosed
	}
	if session.Cursor >= len(session.QuestionIDs) {
		return SubmitResult{}, domain.ErrConflict
	}

	key, err := s.catalog.AnswerKey(ctx, questionID)
	if err != nil {
		return SubmitResult{}, err
	}
	// A submission must target the question at the cursor; anything else is
	// a stale or duplicated request.
	if session.QuestionIDs[session.Cursor] != questionID {
		return SubmitResult{}, domain.ErrConflict
	}
	correct := key.CorrectAnswerID == answerID

	if err := s.sessions.RecordAnswer(ctx, session.ID, session.Cursor, questionID, correct); err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		Correct:           correct,
		CorrectAnswerID:   key.CorrectAnswerID,
		CorrectAnswerText: key.CorrectAnswerText,
	}, nil
}

// LogFocusSwitch bumps the session's focus-switch counter. It is best-effort
// telemetry: invalid tokens and storage errors are logged and dropped.
func (s *SessionService) LogFocusSwitch(ctx context.Context, sessionID int64, token string) {
	session, err := s.authorize(ctx, sessionID, token)
	if err != nil {
		return
	}
	if session.Closed() {
		return
	}
	if err := s.sessions.AddFocusSwitch(ctx, session.ID); err != nil {
		s.log.Warn("focus switch not recorded", "session", sessionID, "err", err)
	}
}

// End closes the session. Final counters are recomputed from the recorded
// answer events rather than trusted from the client; a mismatch is logged.
// Ending an already-closed session is a warned no-op.
func (s *SessionService) End(ctx context.Context, sessionID int64, clientCorrect, clientWrong int) (domain.Session, error) {
	if _, err := s.sessions.Session(ctx, sessionID); err != nil {
		return domain.Session{}, err
	}

	correct, wrong, err := s.sessions.AnswerTotals(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if correct != clientCorrect || wrong != clientWrong {
		s.log.Warn("client-reported counters disagree with answer log",
			"session", sessionID,
			"client_correct", clientCorrect, "client_wrong", clientWrong,
			"server_correct", correct, "server_wrong", wrong)
	}

	percentage := 0.0
	if total := correct + wrong; total > 0 {
		percentage = float64(correct) / float64(total) * 100
	}

	closed, err := s.sessions.CloseSession(ctx, sessionID, correct, wrong, percentage)
	if err != nil {
		return domain.Session{}, err
	}
	if !closed {
		s.log.Warn("end requested for already-closed session", "session", sessionID)
	}
	return s.sessions.Session(ctx, sessionID)
}

// SessionStats returns the stored session row.
func (s *SessionService) SessionStats(ctx context.Context, sessionID int64) (domain.Session, error) {
	return s.sessions.Session(ctx, sessionID)
}

func (s *SessionService) authorize(ctx context.Context, sessionID int64, token string) (domain.Session, error) {
	session, err := s.sessions.Session(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Session{}, err
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(session.Token), []byte(token)) != 1 {
		return domain.Session{}, domain.ErrUnauthorized
	}
	return session, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
