// Package gate holds the per-session confirmation state machine that stands
// between a generated write and its execution.
//
//	NoQueryPending -> AwaitingConfirmation -> Confirmed | Denied -> NoQueryPending
//
// A single read never waits. A single write or any batch waits until it is
// confirmed, denied, or replaced by a fresh generation.
package gate

import (
	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
	"github.com/felipepmaragno/sqlassist/internal/statement"
)

type State string

const (
	StateNoQueryPending       State = "no_query_pending"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateDenied               State = "denied"
)

// Pending is the batch held while awaiting confirmation, together with the
// request that produced it so it can be regenerated. The request never
// carries an API key.
type Pending struct {
	SQL        string                   `json:"sql"`
	Statements []domain.Statement       `json:"statements"`
	Route      statement.Route          `json:"route"`
	Request    domain.GenerationRequest `json:"request"`
}

// Gate is serialized into the session store, so all of its state is exported.
type Gate struct {
	State   State    `json:"state"`
	Pending *Pending `json:"pending,omitempty"`

	// LastResolution is Confirmed or Denied once a pending batch was resolved.
	LastResolution State `json:"last_resolution,omitempty"`

	// transitions made since the gate was loaded, not yet counted.
	transitions []State
}

func New() Gate {
	return Gate{State: StateNoQueryPending}
}

func (g *Gate) Awaiting() bool {
	return g.State == StateAwaitingConfirmation && g.Pending != nil
}

// Submit hands a freshly generated plan to the gate and reports whether it
// must wait for confirmation. Any previously pending batch is discarded.
func (g *Gate) Submit(plan statement.Plan, req domain.GenerationRequest) bool {
	if !plan.RequiresConfirmation() {
		g.clear()
		return false
	}

	req.APIKey = ""
	g.Pending = &Pending{
		SQL:        plan.SQL,
		Statements: plan.Statements,
		Route:      plan.Route,
		Request:    req,
	}
	g.transition(StateAwaitingConfirmation)
	return true
}

// Confirm releases the pending batch for exactly one execution pass.
func (g *Gate) Confirm() (*Pending, error) {
	return g.resolve(StateConfirmed)
}

// Deny discards the pending batch without executing anything.
func (g *Gate) Deny() (*Pending, error) {
	return g.resolve(StateDenied)
}

// Peek returns the pending batch without resolving it.
func (g *Gate) Peek() (*Pending, error) {
	if !g.Awaiting() {
		return nil, domain.ErrNoPendingQuery
	}
	return g.Pending, nil
}

// Regenerate replaces the pending batch with plan. A regenerated read resolves
// the gate immediately and reports false.
func (g *Gate) Regenerate(plan statement.Plan, req domain.GenerationRequest) (bool, error) {
	if !g.Awaiting() {
		return false, domain.ErrNoPendingQuery
	}
	return g.Submit(plan, req), nil
}

// Resolve settles the pending batch from a stateless execute call. It only
// applies when sql is the pending batch, and reports whether it did.
func (g *Gate) Resolve(sql string, confirmed bool) bool {
	if !g.Awaiting() || statement.Format(sql) != g.Pending.SQL {
		return false
	}
	if confirmed {
		g.resolve(StateConfirmed)
	} else {
		g.resolve(StateDenied)
	}
	return true
}

// Reset drops any pending batch.
func (g *Gate) Reset() {
	g.clear()
	g.LastResolution = ""
}

func (g *Gate) resolve(outcome State) (*Pending, error) {
	if !g.Awaiting() {
		return nil, domain.ErrNoPendingQuery
	}
	pending := g.Pending
	g.transition(outcome)
	g.LastResolution = outcome
	g.clear()
	return pending, nil
}

func (g *Gate) clear() {
	g.Pending = nil
	if g.State != StateNoQueryPending {
		g.transition(StateNoQueryPending)
	}
}

func (g *Gate) transition(to State) {
	g.State = to
	g.transitions = append(g.transitions, to)
}

// Commit counts the transitions made since the gate was loaded. Stores call
// it once the owning session is persisted, so a discarded or retried update
// is never counted.
func (g *Gate) Commit() {
	for _, to := range g.transitions {
		metrics.RecordGateTransition(string(to))
	}
	g.transitions = nil
}
