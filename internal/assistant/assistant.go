// Package assistant runs the query protocol for one session: generate SQL,
// route it, fetch reads right away, hold writes at the confirmation gate and
// charge every LLM call to the session.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felipepmaragno/sqlassist/internal/budget"
	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/gate"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
	"github.com/felipepmaragno/sqlassist/internal/session"
	"github.com/felipepmaragno/sqlassist/internal/statement"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

type SchemaSource interface {
	Introspect(ctx context.Context) (*domain.Schema, error)
}

type RosterSource interface {
	Roster(ctx context.Context) (string, error)
}

type Database interface {
	Fetch(ctx context.Context, stmt string) ([]domain.Row, error)
	Execute(ctx context.Context, stmt string) domain.ExecutionOutcome
}

type Generator interface {
	GenerateSQL(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error)
	BuildTeam(ctx context.Context, req domain.TeamRequest, roster string) (*domain.TeamResult, error)
}

type Pricer interface {
	Calculate(model string, usage domain.Usage) float64
}

type Config struct {
	Schema        SchemaSource
	Roster        RosterSource
	DB            Database
	Generator     Generator
	Costs         Pricer
	Sessions      session.Store
	Monitor       *budget.Monitor
	EnforceBudget bool
}

type Service struct {
	schema        SchemaSource
	roster        RosterSource
	db            Database
	generator     Generator
	costs         Pricer
	sessions      session.Store
	monitor       *budget.Monitor
	enforceBudget bool
}

func New(cfg Config) *Service {
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = budget.NewMonitor()
	}
	return &Service{
		schema:        cfg.Schema,
		roster:        cfg.Roster,
		db:            cfg.DB,
		generator:     cfg.Generator,
		costs:         cfg.Costs,
		sessions:      cfg.Sessions,
		monitor:       monitor,
		enforceBudget: cfg.EnforceBudget,
	}
}

// Answer is the outcome of one generation. Rows is set only when the plan was
// a single read and has already been fetched.
type Answer struct {
	Generation           *domain.GenerationResult
	Plan                 statement.Plan
	Cost                 float64
	Rows                 []domain.Row
	Fetched              bool
	AwaitingConfirmation bool
	Session              *session.Session
}

func (a *Answer) ConfirmationMessage() string {
	return ConfirmationMessage(a.Plan, a.Generation.Confidence.MeetsThreshold)
}

type TeamAnswer struct {
	Result  *domain.TeamResult
	Cost    float64
	Session *session.Session
}

// BatchResult reports every statement of a batch independently. Cancelled
// means nothing ran.
type BatchResult struct {
	Outcomes  []domain.ExecutionOutcome
	Cancelled bool
}

// Ask turns user text into SQL. A single read is fetched immediately; anything
// else waits at the session's gate.
func (s *Service) Ask(ctx context.Context, sessionID string, req domain.GenerationRequest) (*Answer, error) {
	return s.generate(ctx, sessionID, req, func(g *gate.Gate, plan statement.Plan) (bool, error) {
		return g.Submit(plan, req), nil
	})
}

type Overrides struct {
	Model              *string
	Temperature        *float64
	MaxTokens          *int
	CertaintyThreshold *float64
	APIKey             string
}

// Regenerate discards the pending batch and generates again from the same
// user text, optionally with different parameters.
func (s *Service) Regenerate(ctx context.Context, sessionID string, o Overrides) (*Answer, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pending, err := sess.Gate.Peek()
	if err != nil {
		return nil, err
	}

	req := pending.Request
	if o.Model != nil {
		req.Model = *o.Model
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	if o.CertaintyThreshold != nil {
		req.CertaintyThreshold = *o.CertaintyThreshold
	}
	req.APIKey = o.APIKey

	return s.generate(ctx, sessionID, req, func(g *gate.Gate, plan statement.Plan) (bool, error) {
		return g.Regenerate(plan, req)
	})
}

type submitFunc func(g *gate.Gate, plan statement.Plan) (bool, error)

func (s *Service) generate(ctx context.Context, sessionID string, req domain.GenerationRequest, submit submitFunc) (*Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "assistant.Ask")
	defer span.End()
	telemetry.AddSessionAttribute(span, sessionID)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkBudget(ctx, sessionID); err != nil {
		return nil, err
	}

	schema, err := s.schema.Introspect(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	gen, err := s.generator.GenerateSQL(ctx, req, schema.Text())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	cost := s.price(gen.Model, gen.Usage)
	plan, planErr := statement.NewPlan(gen.SQL)

	// The completion is paid for even when the gate moved on while it was
	// generated, so a rejected submit still persists the charge.
	var (
		waiting   bool
		submitErr error
	)
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		sess.Accounting.Add(cost)
		waiting, submitErr = false, nil
		if planErr != nil {
			sess.Gate.Reset()
			return nil
		}
		waiting, submitErr = submit(&sess.Gate, plan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.monitor.Check(ctx, sessionID, sess.Accounting)

	if submitErr != nil {
		return nil, submitErr
	}

	if planErr != nil {
		slog.Warn("generated text is not a recognized query", "session_id", sessionID, "query", gen.SQL)
		return nil, planErr
	}

	answer := &Answer{
		Generation:           gen,
		Plan:                 plan,
		Cost:                 cost,
		AwaitingConfirmation: waiting,
		Session:              sess,
	}

	if plan.Route == statement.RouteFetch {
		rows, err := s.db.Fetch(ctx, plan.Statements[0].Text)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		answer.Rows = rows
		answer.Fetched = true
	}

	slog.Info("query generated",
		"session_id", sessionID,
		"route", plan.Route,
		"statements", len(plan.Statements),
		"accurate", gen.Confidence.MeetsThreshold,
		"cost", cost,
	)

	return answer, nil
}

// Confirm releases the pending batch and runs every statement once, in order.
func (s *Service) Confirm(ctx context.Context, sessionID string) (*BatchResult, error) {
	var pending *gate.Pending
	_, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		p, err := sess.Gate.Confirm()
		pending = p
		return err
	})
	if err != nil {
		return nil, err
	}

	return &BatchResult{Outcomes: s.run(ctx, pending.Statements)}, nil
}

// Deny drops the pending batch without touching the database.
func (s *Service) Deny(ctx context.Context, sessionID string) (*gate.Pending, error) {
	var pending *gate.Pending
	_, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		p, err := sess.Gate.Deny()
		pending = p
		return err
	})
	return pending, err
}

// Execute runs caller-supplied SQL. Reads always run; writes only with
// confirm. Without confirm a batch holding any write is cancelled before any
// statement runs. When sql is the session's pending batch the gate is
// resolved accordingly.
func (s *Service) Execute(ctx context.Context, sessionID, sql string, confirm bool) (*BatchResult, error) {
	if !statement.Recognized(sql) {
		return nil, fmt.Errorf("%w: no SELECT, INSERT, UPDATE or DELETE found", domain.ErrInvalidQuery)
	}
	stmts := statement.Split(sql)
	if len(stmts) == 0 {
		return nil, fmt.Errorf("%w: no statements found", domain.ErrInvalidQuery)
	}

	cancelled := !confirm && (statement.Plan{Statements: stmts}).HasWrite()

	if sessionID != "" {
		_, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
			sess.Gate.Resolve(sql, !cancelled)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if cancelled {
		slog.Info("write cancelled without confirmation", "session_id", sessionID)
		return &BatchResult{Cancelled: true}, nil
	}

	return &BatchResult{Outcomes: s.run(ctx, stmts)}, nil
}

// run executes every statement regardless of earlier failures.
func (s *Service) run(ctx context.Context, stmts []domain.Statement) []domain.ExecutionOutcome {
	outcomes := make([]domain.ExecutionOutcome, 0, len(stmts))
	for _, stmt := range stmts {
		if !stmt.IsRead() {
			outcomes = append(outcomes, s.db.Execute(ctx, stmt.Text))
			continue
		}

		rows, err := s.db.Fetch(ctx, stmt.Text)
		if err != nil {
			outcomes = append(outcomes, domain.ExecutionOutcome{
				Statement: stmt.Text,
				Kind:      domain.OutcomeFetched,
				Error:     "Error processing query: " + err.Error(),
				Err:       err,
			})
			continue
		}
		outcomes = append(outcomes, domain.Fetched(stmt.Text, rows))
	}
	return outcomes
}

// BuildTeam recommends a team for a project description from the available roster.
func (s *Service) BuildTeam(ctx context.Context, sessionID string, req domain.TeamRequest) (*TeamAnswer, error) {
	ctx, span := telemetry.StartSpan(ctx, "assistant.BuildTeam")
	defer span.End()
	telemetry.AddSessionAttribute(span, sessionID)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkBudget(ctx, sessionID); err != nil {
		return nil, err
	}

	roster, err := s.roster.Roster(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result, err := s.generator.BuildTeam(ctx, req, roster)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	cost := s.price(result.Model, result.Usage)
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		sess.Accounting.Add(cost)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.monitor.Check(ctx, sessionID, sess.Accounting)

	return &TeamAnswer{Result: result, Cost: cost, Session: sess}, nil
}

func (s *Service) Schema(ctx context.Context) (*domain.Schema, error) {
	return s.schema.Introspect(ctx)
}

func (s *Service) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// ResetSession zeroes the running cost and drops any pending batch.
func (s *Service) ResetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		sess.Accounting.Reset()
		sess.Gate.Reset()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.monitor.Check(ctx, sessionID, sess.Accounting)
	return sess, nil
}

func (s *Service) SetBudget(ctx context.Context, sessionID string, limit float64) (*session.Session, error) {
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		return sess.Accounting.SetBudget(limit)
	})
	if err != nil {
		return nil, err
	}
	s.monitor.Check(ctx, sessionID, sess.Accounting)
	return sess, nil
}

func (s *Service) checkBudget(ctx context.Context, sessionID string) error {
	if !s.enforceBudget {
		return nil
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Accounting.Exceeded() {
		return fmt.Errorf("%w: spent $%.6f of $%.2f", domain.ErrBudgetExceeded, sess.Accounting.TotalCost, sess.Accounting.Budget)
	}
	return nil
}

func (s *Service) price(model string, usage domain.Usage) float64 {
	cost := s.costs.Calculate(model, usage)
	metrics.RecordCost(model, cost)
	return cost
}
