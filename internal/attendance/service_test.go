package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/database/mock"
)

func newTestService(t *testing.T) (*Service, *mock.Store) {
	t.Helper()
	store := mock.NewStore()
	svc := NewService(store)
	svc.retry.BaseDelay = time.Millisecond // keep retry tests fast
	return svc, store
}

func seedClass(store *mock.Store, n int) {
	for i := 1; i <= n; i++ {
		store.AddIdentity(database.Identity{
			ID: fmt.Sprintf("S%d", i), Name: fmt.Sprintf("Student %d", i),
			ClassYear: "SE", Division: "A", IsTrained: true, IsActive: true,
		})
	}
}

func startSession(t *testing.T, svc *Service) *database.Session {
	t.Helper()
	sess, err := svc.Start(context.Background(), StartParams{
		ClassYear: "SE", Division: "A", Subject: "CS301", Period: "1",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sess
}

func TestStartValidatesScope(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Start(context.Background(), StartParams{ClassYear: "SE"}); err == nil {
		t.Fatal("expected validation error for missing division and subject")
	}
}

func TestStartCreatesActiveSession(t *testing.T) {
	svc, _ := newTestService(t)
	sess := startSession(t, svc)

	if sess.Status != database.SessionActive {
		t.Errorf("status = %s, want active", sess.Status)
	}
	if sess.ID == "" {
		t.Error("session must carry a generated ID")
	}

	got, err := svc.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("Get returned %s, want %s", got.ID, sess.ID)
	}
}

func TestMarkPresentIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 1)
	sess := startSession(t, svc)

	first, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 85)
	if err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if first.AlreadyMarked || first.PresentCount != 1 {
		t.Errorf("first mark = %+v, want fresh mark with count 1", first)
	}

	second, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 95)
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if !second.AlreadyMarked {
		t.Error("second mark must report already marked")
	}
	if !second.MarkedAt.Equal(first.MarkedAt) {
		t.Errorf("second mark timestamp %v, want original %v", second.MarkedAt, first.MarkedAt)
	}
	if second.PresentCount != 1 {
		t.Errorf("present count = %d, want 1", second.PresentCount)
	}
}

func TestMarkPresentConcurrentSingleWinner(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 1)
	sess := startSession(t, svc)

	const workers = 16
	results := make([]*database.MarkResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 80)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		if res != nil && !res.AlreadyMarked {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created %d present records, want exactly 1", created)
	}
}

func TestMarkPresentRetriesTransientErrors(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 1)
	sess := startSession(t, svc)

	store.MarkPresentErrs = []error{
		fmt.Errorf("write conflict: %w", database.ErrTransient),
		fmt.Errorf("write conflict: %w", database.ErrTransient),
	}

	res, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 80)
	if err != nil {
		t.Fatalf("mark should recover after transient errors: %v", err)
	}
	if res.AlreadyMarked {
		t.Error("recovered mark must be fresh")
	}
}

func TestMarkPresentExhaustsRetryBudget(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 1)
	sess := startSession(t, svc)

	transient := fmt.Errorf("write conflict: %w", database.ErrTransient)
	store.MarkPresentErrs = []error{transient, transient, transient, transient}

	_, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 80)
	if !errors.Is(err, database.ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy after budget exhaustion", err)
	}
}

func TestMarkPresentDoesNotRetryStateErrors(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 1)
	sess := startSession(t, svc)

	if _, err := svc.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	_, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 80)
	if !errors.Is(err, database.ErrSessionNotActive) {
		t.Fatalf("error = %v, want ErrSessionNotActive", err)
	}

	_, err = svc.MarkPresent(context.Background(), "missing", "S1", 80)
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestEndSynthesizesAbsentsAndCounters(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 10)
	sess := startSession(t, svc)

	for i := 1; i <= 7; i++ {
		if _, err := svc.MarkPresent(context.Background(), sess.ID, fmt.Sprintf("S%d", i), 80); err != nil {
			t.Fatalf("mark S%d failed: %v", i, err)
		}
	}

	ended, err := svc.End(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if ended.Status != database.SessionCompleted {
		t.Errorf("status = %s, want completed", ended.Status)
	}
	if ended.PresentCount != 7 || ended.AbsentCount != 3 || ended.TotalStudents != 10 {
		t.Errorf("counters = %d/%d/%d, want 7/3/10", ended.PresentCount, ended.AbsentCount, ended.TotalStudents)
	}
	if ended.EndedAt == nil {
		t.Error("ended session must carry an end timestamp")
	}

	summary, err := svc.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Percentage != 70.0 {
		t.Errorf("percentage = %f, want 70.0", summary.Percentage)
	}
	if len(summary.Records) != 10 {
		t.Errorf("records = %d, want 10", len(summary.Records))
	}
}

func TestEndIsTerminal(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 2)
	sess := startSession(t, svc)

	if _, err := svc.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if _, err := svc.End(context.Background(), sess.ID); !errors.Is(err, database.ErrSessionNotActive) {
		t.Errorf("second End error = %v, want ErrSessionNotActive", err)
	}
	if _, err := svc.Cancel(context.Background(), sess.ID); !errors.Is(err, database.ErrSessionNotActive) {
		t.Errorf("Cancel after End error = %v, want ErrSessionNotActive", err)
	}
}

func TestCancelSkipsAbsentSynthesis(t *testing.T) {
	svc, store := newTestService(t)
	seedClass(store, 5)
	sess := startSession(t, svc)

	if _, err := svc.MarkPresent(context.Background(), sess.ID, "S1", 80); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != database.SessionCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	records, err := store.SessionRecords(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("SessionRecords failed: %v", err)
	}
	for _, rec := range records {
		if rec.Status == database.RecordAbsent {
			t.Error("cancelled session must not synthesize absent records")
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		present, total int
		want           float64
	}{
		{7, 10, 70.0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 5, 0},
		{5, 5, 100},
		{0, 0, 0},
	}

	for _, tt := range tests {
		if got := Percentage(tt.present, tt.total); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tt.present, tt.total, got, tt.want)
		}
	}
}
