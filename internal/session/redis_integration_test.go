//go:build integration

package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/gate"
	"github.com/felipepmaragno/sqlassist/internal/statement"
)

func getRedisURL(t *testing.T) string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis session tests")
	}
	return url
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStore(getRedisURL(t), 1.0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	id := NewID()
	plan, err := statement.NewPlan("DELETE FROM employees WHERE id = 1;")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	_, err = s.Update(ctx, id, func(sess *Session) error {
		sess.Accounting.Add(0.01)
		sess.Gate.Submit(plan, domain.GenerationRequest{Text: "remove employee 1"})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Accounting.APICalls != 1 {
		t.Errorf("expected 1 call, got %d", sess.Accounting.APICalls)
	}
	if sess.Gate.State != gate.StateAwaitingConfirmation {
		t.Errorf("expected awaiting confirmation, got %s", sess.Gate.State)
	}
}

func TestRedisStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStore(getRedisURL(t), 1.0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	id := NewID()

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, id, func(sess *Session) error {
				sess.Accounting.Add(0)
				return nil
			}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	sess, _ := s.Get(ctx, id)
	if sess.Accounting.APICalls != 3 {
		t.Errorf("expected 3 calls, got %d", sess.Accounting.APICalls)
	}
}
