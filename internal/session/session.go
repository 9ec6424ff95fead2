// Package session keeps the per-user context object every request runs
// against: the running cost accounting and the confirmation gate. It supports
// in-memory (single instance) and Redis (shared between instances) backends.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/sqlassist/internal/budget"
	"github.com/felipepmaragno/sqlassist/internal/gate"
)

type Session struct {
	ID         string            `json:"id"`
	Accounting budget.Accounting `json:"accounting"`
	Gate       gate.Gate         `json:"gate"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func New(id string, budgetLimit float64) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Accounting: budget.NewAccounting(budgetLimit),
		Gate:       gate.New(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewID() string {
	return uuid.NewString()
}

// Store loads and mutates sessions. Unknown ids yield a fresh session with
// the default budget. Update runs fn against the latest stored state and
// persists the result only when fn returns nil; fn must not block.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
}
