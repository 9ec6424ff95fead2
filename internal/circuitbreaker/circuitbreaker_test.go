package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

// clock is advanced by hand so cool-downs need no sleeping.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*InMemoryCircuitBreaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	cb := NewInMemory("test", cfg)
	cb.now = c.now
	return cb, c
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	if cb.State(context.Background()) != StateClosed {
		t.Errorf("expected StateClosed, got %v", cb.State(context.Background()))
	}
	if err := cb.Allow(context.Background()); err != nil {
		t.Errorf("closed breaker should allow, got %v", err)
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	ctx := context.Background()
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 30 * time.Second}

	tests := []struct {
		name      string
		run       func(cb *InMemoryCircuitBreaker, c *clock)
		wantState State
		wantErr   error
	}{
		{
			name: "below threshold stays closed",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
			},
			wantState: StateClosed,
		},
		{
			name: "success resets the failure count",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
				cb.RecordSuccess(ctx)
				cb.RecordFailure(ctx)
			},
			wantState: StateClosed,
		},
		{
			name: "opens at threshold and blocks",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
				cb.RecordFailure(ctx)
				c.advance(10 * time.Second)
			},
			wantState: StateOpen,
			wantErr:   domain.ErrProviderUnavailable,
		},
		{
			name: "half-open after cool-down",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
				cb.RecordFailure(ctx)
				c.advance(31 * time.Second)
			},
			wantState: StateHalfOpen,
		},
		{
			name: "trial successes close",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
				cb.RecordFailure(ctx)
				c.advance(31 * time.Second)
				cb.Allow(ctx)
				cb.RecordSuccess(ctx)
				cb.RecordSuccess(ctx)
			},
			wantState: StateClosed,
		},
		{
			name: "trial failure reopens",
			run: func(cb *InMemoryCircuitBreaker, c *clock) {
				cb.RecordFailure(ctx)
				cb.RecordFailure(ctx)
				c.advance(31 * time.Second)
				cb.Allow(ctx)
				cb.RecordFailure(ctx)
			},
			wantState: StateOpen,
			wantErr:   domain.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, c := newTestBreaker(cfg)
			tt.run(cb, c)

			err := cb.Allow(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Allow() = %v, want %v", err, tt.wantErr)
			}
			if got := cb.State(ctx); got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
		if s != State(9) && parseState(want) != s {
			t.Errorf("parseState(%q) = %v", want, parseState(want))
		}
	}
}
