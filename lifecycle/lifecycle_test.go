package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/ezhao816/chatrelay/config"
	"github.com/ezhao816/chatrelay/domain"
)

// laggedStore hides a session until a set number of reads have happened.
type laggedStore struct {
	session      *domain.Session
	visibleAfter int
	gets         int
}

func (s *laggedStore) Create(ctx context.Context, title string, seed *domain.Message) (*domain.Session, error) {
	s.session = &domain.Session{ID: "sess_test", Title: title, Messages: []domain.Message{}}
	if seed != nil {
		s.session.Messages = append(s.session.Messages, *seed)
	}
	return s.session, nil
}

func (s *laggedStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.gets++
	if s.session == nil || s.session.ID != id {
		return nil, nil
	}
	if s.gets <= s.visibleAfter {
		return nil, nil
	}
	return s.session, nil
}

func (s *laggedStore) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	return s.session, nil
}

func (s *laggedStore) Delete(ctx context.Context, id string) (bool, error) { return false, nil }
func (s *laggedStore) DeleteAll(ctx context.Context) error                 { return nil }
func (s *laggedStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	return []domain.Session{}, nil
}
func (s *laggedStore) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
		VerifyAttempts:  5,
		VerifyBaseDelay: 200 * time.Millisecond,
		VerifyMaxDelay:  time.Second,
	}
}

func TestResolveFindsLaggedSession(t *testing.T) {
	s := &laggedStore{
		session:      &domain.Session{ID: "sess_test"},
		visibleAfter: 2,
	}
	lc := New(s, testConfig())

	session, err := lc.Resolve(context.Background(), "sess_test")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if session == nil || session.ID != "sess_test" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if s.gets != 3 {
		t.Fatalf("expected 3 reads, got %d", s.gets)
	}
}

func TestResolveExhaustsBudget(t *testing.T) {
	s := &laggedStore{
		session:      &domain.Session{ID: "sess_test"},
		visibleAfter: 100,
	}
	lc := New(s, testConfig())

	_, err := lc.Resolve(context.Background(), "sess_test")
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if s.gets != 3 {
		t.Fatalf("expected exactly 3 reads, got %d", s.gets)
	}
}

func TestCreateAndVerifySlowVisibility(t *testing.T) {
	s := &laggedStore{visibleAfter: 1}
	cfg := testConfig()
	cfg.VerifyBaseDelay = time.Millisecond
	cfg.VerifyMaxDelay = 5 * time.Millisecond
	lc := New(s, cfg)

	session, err := lc.CreateAndVerify(context.Background(), "New chat", nil)
	if err != nil {
		t.Fatalf("CreateAndVerify failed: %v", err)
	}
	if session.ID != "sess_test" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if s.gets != 2 {
		t.Fatalf("expected 2 reads, got %d", s.gets)
	}
}

func TestCreateAndVerifyTimesOut(t *testing.T) {
	s := &laggedStore{visibleAfter: 100}
	cfg := testConfig()
	cfg.VerifyBaseDelay = time.Millisecond
	cfg.VerifyMaxDelay = 2 * time.Millisecond
	lc := New(s, cfg)

	_, err := lc.CreateAndVerify(context.Background(), "New chat", nil)
	if !domain.IsKind(err, domain.KindVerificationTimeout) {
		t.Fatalf("expected verification timeout, got %v", err)
	}
	if s.gets != 5 {
		t.Fatalf("expected exactly 5 reads, got %d", s.gets)
	}
}

func TestVerifyBackoffSchedule(t *testing.T) {
	lc := New(&laggedStore{}, testConfig())

	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, expected := range want {
		if got := lc.VerifyBackoff(attempt); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestResolveCancelledMidWait(t *testing.T) {
	s := &laggedStore{visibleAfter: 100}
	cfg := testConfig()
	cfg.ResolveDelay = time.Second
	lc := New(s, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := lc.Resolve(ctx, "sess_test")
	if !domain.IsKind(err, domain.KindCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if s.gets != 1 {
		t.Fatalf("expected 1 read before cancellation, got %d", s.gets)
	}
}
