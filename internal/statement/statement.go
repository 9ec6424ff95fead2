package statement

import (
	"fmt"
	"strings"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

var operations = []string{"SELECT", "INSERT", "UPDATE", "DELETE"}

// Route tells the caller what to do with a generated batch.
type Route string

const (
	// RouteFetch: exactly one read statement, run it now without confirmation.
	RouteFetch Route = "fetch"
	// RouteConfirmWrite: exactly one write statement, confirmation required.
	RouteConfirmWrite Route = "confirm_write"
	// RouteConfirmBatch: more than one statement, confirmation required for the whole batch.
	RouteConfirmBatch Route = "confirm_batch"
)

type Plan struct {
	SQL        string
	Statements []domain.Statement
	Route      Route
}

func (p Plan) RequiresConfirmation() bool {
	return p.Route != RouteFetch
}

// HasWrite reports whether any statement in the plan mutates data.
func (p Plan) HasWrite() bool {
	for _, s := range p.Statements {
		if !s.IsRead() {
			return true
		}
	}
	return false
}

// Split breaks text on ';' and classifies every non-empty fragment.
func Split(sql string) []domain.Statement {
	var stmts []domain.Statement
	for _, fragment := range strings.Split(sql, ";") {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		stmts = append(stmts, domain.Statement{Text: fragment, Kind: Classify(fragment)})
	}
	return stmts
}

// Classify marks a fragment as a read iff it contains SELECT in any case.
func Classify(fragment string) domain.StatementKind {
	if strings.Contains(strings.ToUpper(fragment), "SELECT") {
		return domain.StatementRead
	}
	return domain.StatementWrite
}

// Recognized reports whether the text mentions at least one known operation.
func Recognized(sql string) bool {
	upper := strings.ToUpper(sql)
	for _, op := range operations {
		if strings.Contains(upper, op) {
			return true
		}
	}
	return false
}

// NewPlan validates normalized SQL text and routes it.
func NewPlan(sql string) (Plan, error) {
	if !Recognized(sql) {
		return Plan{}, fmt.Errorf("%w: no SELECT, INSERT, UPDATE or DELETE found", domain.ErrInvalidQuery)
	}

	stmts := Split(sql)
	plan := Plan{SQL: sql, Statements: stmts}

	switch {
	case len(stmts) == 0:
		return Plan{}, fmt.Errorf("%w: no statements found", domain.ErrInvalidQuery)
	case len(stmts) > 1:
		plan.Route = RouteConfirmBatch
	case stmts[0].IsRead():
		plan.Route = RouteFetch
	default:
		plan.Route = RouteConfirmWrite
	}

	return plan, nil
}
