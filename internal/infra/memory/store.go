package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-trainer-service/internal/domain"
)

type userRow struct {
	firstSeen     time.Time
	lastSeen      time.Time
	totalSessions int
}

// Store keeps sessions, answer events and question stats in process memory.
// It implements app.SessionStore and app.StatsStore and mirrors the atomicity
// guarantees of the Postgres store under a single mutex.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*domain.Session
	answers  []domain.AnswerEvent
	stats    map[int64]*domain.QuestionStat
	users    map[string]*userRow
	tokens   map[string]struct{}
	clock    func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*domain.Session),
		stats:    make(map[int64]*domain.QuestionStat),
		users:    make(map[string]*userRow),
		tokens:   make(map[string]struct{}),
		clock:    time.Now,
	}
}

// NewStoreWithClock is test-only for deterministic timestamps.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.clock = now
	return s
}

func (s *Store) CreateSession(_ context.Context, userUUID string, mode domain.Mode, token string, questionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.tokens[token]; taken {
		return 0, domain.ErrDuplicateToken
	}

	now := s.clock()
	if user, ok := s.users[userUUID]; ok {
		user.lastSeen = now
		user.totalSessions++
	} else {
		s.users[userUUID] = &userRow{firstSeen: now, lastSeen: now, totalSessions: 1}
	}

	s.nextID++
	ids := make([]int64, len(questionIDs))
	copy(ids, questionIDs)
	s.sessions[s.nextID] = &domain.Session{
		ID:          s.nextID,
		UserUUID:    userUUID,
		Mode:        mode,
		StartTime:   now,
		Token:       token,
		QuestionIDs: ids,
	}
	s.tokens[token] = struct{}{}
	return s.nextID, nil
}

func (s *Store) Session(_ context.Context, id int64) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *Store) MarkDispensed(_ context.Context, id int64, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Dispensed > index {
		return false, nil
	}
	session.Dispensed = index + 1
	return true, nil
}

func (s *Store) RecordAnswer(_ context.Context, sessionID int64, expectedCursor int, questionID int64, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.Cursor != expectedCursor {
		return domain.ErrConflict
	}

	s.answers = append(s.answers, domain.AnswerEvent{
		SessionID:  sessionID,
		QuestionID: questionID,
		Correct:    correct,
		At:         s.clock(),
	})
	s.recordOutcomeLocked(questionID, correct)

	session.Cursor++
	if correct {
		session.Correct++
	} else {
		session.Wrong++
	}
	return nil
}

func (s *Store) AddFocusSwitch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.FocusSwitches++
	return nil
}

func (s *Store) CloseSession(_ context.Context, id int64, correct, wrong int, percentage float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.EndTime != nil {
		return false, nil
	}
	now := s.clock()
	session.EndTime = &now
	session.Correct = correct
	session.Wrong = wrong
	session.Percentage = percentage
	return true, nil
}

func (s *Store) AnswerTotals(_ context.Context, sessionID int64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	correct, wrong := 0, 0
	for _, event := range s.answers {
		if event.SessionID != sessionID {
			continue
		}
		if event.Correct {
			correct++
		} else {
			wrong++
		}
	}
	return correct, wrong, nil
}

func (s *Store) RecordExposure(_ context.Context, questionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat := s.statLocked(questionID)
	stat.TotalShown++
	stat.ErrorRate = errorRate(stat.TotalWrong, stat.TotalShown)
	return nil
}

func (s *Store) RecordOutcome(_ context.Context, questionID int64, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordOutcomeLocked(questionID, correct)
	return nil
}

func (s *Store) recordOutcomeLocked(questionID int64, correct bool) {
	stat := s.statLocked(questionID)
	if !correct {
		stat.TotalWrong++
	}
	stat.ErrorRate = errorRate(stat.TotalWrong, stat.TotalShown)
}

func (s *Store) statLocked(questionID int64) *domain.QuestionStat {
	stat, ok := s.stats[questionID]
	if !ok {
		stat = &domain.QuestionStat{QuestionID: questionID}
		s.stats[questionID] = stat
	}
	return stat
}

func (s *Store) TopDifficult(_ context.Context, limit, minShown int) ([]domain.QuestionStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.QuestionStat, 0, len(s.stats))
	for _, stat := range s.stats {
		if stat.TotalShown >= int64(minShown) {
			out = append(out, *stat)
		}
	}
	// Ties resolved toward the statistically stronger sample, then by id for
	// a stable order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].ErrorRate != out[j].ErrorRate {
			return out[i].ErrorRate > out[j].ErrorRate
		}
		if out[i].TotalShown != out[j].TotalShown {
			return out[i].TotalShown > out[j].TotalShown
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Overall(ctx context.Context) (domain.OverallStats, error) {
	top, err := s.TopDifficult(ctx, 10, 5)
	if err != nil {
		return domain.OverallStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.OverallStats{
		TotalSessions: int64(len(s.sessions)),
		TotalUsers:    int64(len(s.users)),
	}
	sum, closed := 0.0, 0
	for _, session := range s.sessions {
		if session.EndTime != nil {
			sum += session.Percentage
			closed++
		}
	}
	if closed > 0 {
		stats.AveragePercentage = sum / float64(closed)
	}
	for _, stat := range top {
		stats.TopDifficult = append(stats.TopDifficult, domain.DifficultQuestion{QuestionStat: stat})
	}
	return stats, nil
}

func errorRate(wrong, shown int64) float64 {
	if shown == 0 {
		return 0
	}
	return float64(wrong) / float64(shown) * 100
}

func copySession(s *domain.Session) domain.Session {
	out := *s
	out.QuestionIDs = make([]int64, len(s.QuestionIDs))
	copy(out.QuestionIDs, s.QuestionIDs)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return out
}
