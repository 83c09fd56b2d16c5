package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// openTestStore connects to the database named by OPENWRITE_TEST_DATABASE_DSN.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("OPENWRITE_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("OPENWRITE_TEST_DATABASE_DSN not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func uniqueSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func TestPostgresSeedAndPromptForDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	// A far-future window that no real schedule uses.
	from := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(time.Now().UnixNano()%20000))
	t.Cleanup(func() {
		s.db.Where("date_shown BETWEEN ? AND ?", from, from.AddDate(0, 0, 2)).Delete(&Prompt{})
	})

	if n, err := s.SeedPrompts(ctx, from, 2, []string{"first", "second"}); err != nil || n != 2 {
		t.Fatalf("SeedPrompts n=%d err=%v", n, err)
	}
	day := from.Format("2006-01-02")
	p, ok, err := s.PromptForDay(ctx, day)
	if err != nil || !ok || p.Text != "first" || p.ID == "" {
		t.Fatalf("PromptForDay(%s) = %+v ok=%v err=%v", day, p, ok, err)
	}

	if _, err := s.SeedPrompts(ctx, from, 1, []string{"replaced"}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	p2, _, _ := s.PromptForDay(ctx, day)
	if p2.Text != "replaced" || p2.ID != p.ID {
		t.Fatalf("expected upsert on date_shown, got %+v (before %+v)", p2, p)
	}

	if _, ok, err := s.PromptForDay(ctx, from.AddDate(0, 0, 5).Format("2006-01-02")); ok || err != nil {
		t.Fatalf("expected no prompt outside the schedule, ok=%v err=%v", ok, err)
	}
}

func TestPostgresSubscribeDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	email := "Writer_" + uniqueSuffix() + "@Example.com"
	t.Cleanup(func() { s.db.Where("email = ?", strings.ToLower(email)).Delete(&RegisteredUser{}) })

	created, err := s.Subscribe(ctx, email)
	if err != nil || !created {
		t.Fatalf("first Subscribe created=%v err=%v", created, err)
	}
	created, err = s.Subscribe(ctx, strings.ToLower(email))
	if err != nil || created {
		t.Fatalf("duplicate Subscribe created=%v err=%v", created, err)
	}
}

func TestPostgresUsersAndSubmissions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Ada")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	other, err := s.CreateUser(ctx, "Grace")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	t.Cleanup(func() {
		s.db.Where("user_id IN ?", []uuid.UUID{u.ID, other.ID}).Delete(&Submission{})
		s.db.Where("id IN ?", []uuid.UUID{u.ID, other.ID}).Delete(&User{})
	})

	got, err := s.UserByToken(ctx, u.APIToken)
	if err != nil || got.ID != u.ID {
		t.Fatalf("UserByToken = %+v err=%v", got, err)
	}
	if _, err := s.UserByToken(ctx, "unknown-"+uniqueSuffix()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sub := &Submission{UserID: u.ID, PromptID: 1, SubmissionText: "words", IsAnonymous: true}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	if sub.ID == 0 || sub.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", sub)
	}

	name := "u_" + uniqueSuffix()
	if err := s.UpdateUsername(ctx, u.ID, name); err != nil {
		t.Fatalf("UpdateUsername: %v", err)
	}
	if err := s.UpdateUsername(ctx, other.ID, name); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if err := s.UpdateUsername(ctx, uuid.New(), "u_"+uniqueSuffix()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}
