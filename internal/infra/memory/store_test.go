package memory

import (
	"context"
	"sync"
	"testing"

	"exam-trainer-service/internal/domain"
)

func TestConcurrentStatUpdatesLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.RecordExposure(ctx, 7)
			_ = store.RecordOutcome(ctx, 7, false)
		}()
	}
	wg.Wait()

	stats, err := store.TopDifficult(ctx, 10, 1)
	if err != nil {
		t.Fatalf("top difficult: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected one stat row, got %d", len(stats))
	}
	if stats[0].TotalShown != workers || stats[0].TotalWrong != workers {
		t.Fatalf("lost updates: %+v", stats[0])
	}
	if stats[0].ErrorRate != 100 {
		t.Fatalf("expected 100%% error rate, got %f", stats[0].ErrorRate)
	}
}

func TestErrorRateDerivedFromCounters(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	for i := 0; i < 4; i++ {
		_ = store.RecordExposure(ctx, 1)
	}
	_ = store.RecordOutcome(ctx, 1, false)

	stats, _ := store.TopDifficult(ctx, 10, 1)
	if stats[0].ErrorRate != 25 {
		t.Fatalf("expected 25%% after 1 wrong in 4 shown, got %f", stats[0].ErrorRate)
	}
}

func TestTopDifficultOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	seed := func(id int64, shown, wrong int) {
		for i := 0; i < shown; i++ {
			_ = store.RecordExposure(ctx, id)
		}
		for i := 0; i < wrong; i++ {
			_ = store.RecordOutcome(ctx, id, false)
		}
	}
	seed(1, 10, 5)  // 50%
	seed(2, 20, 10) // 50%, larger sample wins the tie
	seed(3, 10, 8)  // 80%
	seed(4, 2, 2)   // below threshold

	stats, err := store.TopDifficult(ctx, 10, 5)
	if err != nil {
		t.Fatalf("top difficult: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 rows above threshold, got %d", len(stats))
	}
	if stats[0].QuestionID != 3 || stats[1].QuestionID != 2 || stats[2].QuestionID != 1 {
		t.Fatalf("unexpected order: %+v", stats)
	}
}

func TestMarkDispensedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	id, err := store.CreateSession(ctx, "user-1", domain.ModeTraining, "token-1", []int64{1, 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := store.MarkDispensed(ctx, id, 0)
	if err != nil || !first {
		t.Fatalf("expected first dispensation, got first=%v err=%v", first, err)
	}
	again, err := store.MarkDispensed(ctx, id, 0)
	if err != nil || again {
		t.Fatalf("expected repeat dispensation to report false, got %v", again)
	}
	next, err := store.MarkDispensed(ctx, id, 1)
	if err != nil || !next {
		t.Fatalf("expected next index to be fresh, got %v", next)
	}
}

func TestDuplicateTokenRejected(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if _, err := store.CreateSession(ctx, "user-1", domain.ModeTraining, "token-1", []int64{1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateSession(ctx, "user-2", domain.ModeTraining, "token-1", []int64{1}); err != domain.ErrDuplicateToken {
		t.Fatalf("expected duplicate token error, got %v", err)
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	id, _ := store.CreateSession(ctx, "user-1", domain.ModeTraining, "token-1", []int64{1})

	closed, err := store.CloseSession(ctx, id, 1, 0, 100)
	if err != nil || !closed {
		t.Fatalf("expected close to succeed, got closed=%v err=%v", closed, err)
	}
	closed, err = store.CloseSession(ctx, id, 0, 9, 0)
	if err != nil || closed {
		t.Fatalf("expected second close to be a no-op, got closed=%v err=%v", closed, err)
	}

	session, _ := store.Session(ctx, id)
	if session.Percentage != 100 {
		t.Fatalf("second close corrupted percentage: %f", session.Percentage)
	}
}

func TestOverallAveragesClosedSessionsOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	open, _ := store.CreateSession(ctx, "user-1", domain.ModeTraining, "token-1", []int64{1})
	_ = open
	done, _ := store.CreateSession(ctx, "user-2", domain.ModeTest, "token-2", []int64{1})
	_, _ = store.CloseSession(ctx, done, 3, 1, 75)

	stats, err := store.Overall(ctx)
	if err != nil {
		t.Fatalf("overall: %v", err)
	}
	if stats.TotalSessions != 2 || stats.TotalUsers != 2 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.AveragePercentage != 75 {
		t.Fatalf("expected average over closed sessions only, got %f", stats.AveragePercentage)
	}
}
