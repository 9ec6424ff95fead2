package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipepmaragno/sqlassist/internal/budget"
	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/gate"
	"github.com/felipepmaragno/sqlassist/internal/session"
	"github.com/felipepmaragno/sqlassist/internal/statement"
)

type mockGenerator struct {
	GenerateSQLFunc func(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error)
	BuildTeamFunc   func(ctx context.Context, req domain.TeamRequest, roster string) (*domain.TeamResult, error)

	calls    int
	requests []domain.GenerationRequest
}

func (m *mockGenerator) GenerateSQL(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error) {
	m.calls++
	m.requests = append(m.requests, req)
	return m.GenerateSQLFunc(ctx, req, schemaText)
}

func (m *mockGenerator) BuildTeam(ctx context.Context, req domain.TeamRequest, roster string) (*domain.TeamResult, error) {
	m.calls++
	return m.BuildTeamFunc(ctx, req, roster)
}

// returning yields one formatted completion per call, in order.
func returning(sqls ...string) *mockGenerator {
	i := 0
	return &mockGenerator{
		GenerateSQLFunc: func(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error) {
			sql := statement.Format(sqls[min(i, len(sqls)-1)])
			i++
			return &domain.GenerationResult{
				SQL:        sql,
				Statements: statement.Split(sql),
				ResponseID: "chatcmpl-1",
				Model:      "gpt-4o-mini-2024-07-18",
				Usage:      domain.NewUsage(100, 20, 120),
				Confidence: domain.Confidence{Threshold: req.CertaintyThreshold, MeetsThreshold: true},
				Request:    req,
			}, nil
		},
	}
}

type mockDB struct {
	mu       sync.Mutex
	FetchErr map[string]error
	fetched  []string
	executed []string
}

func (m *mockDB) Fetch(ctx context.Context, stmt string) ([]domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, stmt)
	if err := m.FetchErr[stmt]; err != nil {
		return nil, err
	}
	return []domain.Row{{"firstname": "Alice"}}, nil
}

func (m *mockDB) Execute(ctx context.Context, stmt string) domain.ExecutionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, stmt)
	return domain.ExecutionOutcome{Statement: stmt, Kind: domain.OutcomeExecuted, Success: true, Message: "Query executed successfully"}
}

func (m *mockDB) touched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched) + len(m.executed)
}

type staticSchema struct{}

func (staticSchema) Introspect(ctx context.Context) (*domain.Schema, error) {
	return &domain.Schema{Database: "company", Tables: []*domain.Table{{Name: "employees"}}}, nil
}

type staticRoster string

func (r staticRoster) Roster(ctx context.Context) (string, error) {
	return string(r), nil
}

type flatPrice float64

func (p flatPrice) Calculate(model string, usage domain.Usage) float64 {
	return float64(p)
}

type fixture struct {
	svc      *Service
	gen      *mockGenerator
	db       *mockDB
	sessions *session.InMemoryStore
}

func newFixture(t *testing.T, gen *mockGenerator, opts ...func(*Config)) *fixture {
	t.Helper()

	sessions := session.NewInMemoryStore(budget.DefaultBudget, time.Hour)
	t.Cleanup(sessions.Close)

	db := &mockDB{}
	cfg := Config{
		Schema:    staticSchema{},
		Roster:    staticRoster("1. Alice Smith - Backend Engineer"),
		DB:        db,
		Generator: gen,
		Costs:     flatPrice(0.01),
		Sessions:  sessions,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &fixture{svc: New(cfg), gen: gen, db: db, sessions: sessions}
}

func askRequest(text string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Text:               text,
		Model:              "gpt-4o-mini",
		Temperature:        0.5,
		MaxTokens:          150,
		CertaintyThreshold: 0.75,
	}
}

func TestAsk_SingleReadIsFetchedImmediately(t *testing.T) {
	f := newFixture(t, returning("SELECT firstname FROM employees"))

	answer, err := f.svc.Ask(context.Background(), "s1", askRequest("list employees"))
	require.NoError(t, err)

	assert.True(t, answer.Fetched)
	assert.False(t, answer.AwaitingConfirmation)
	assert.Len(t, answer.Rows, 1)
	assert.Equal(t, []string{"SELECT firstname FROM employees"}, f.db.fetched)
	assert.Equal(t, gate.StateNoQueryPending, answer.Session.Gate.State)
	assert.InDelta(t, 0.01, answer.Session.Accounting.TotalCost, 1e-9)
	assert.Equal(t, 1, answer.Session.Accounting.APICalls)
}

func TestAsk_WriteWaitsForConfirmation(t *testing.T) {
	f := newFixture(t, returning("DELETE FROM employees WHERE employee_id = 3"))
	ctx := context.Background()

	answer, err := f.svc.Ask(ctx, "s1", askRequest("remove employee 3"))
	require.NoError(t, err)
	assert.True(t, answer.AwaitingConfirmation)
	assert.False(t, answer.Fetched)
	assert.Zero(t, f.db.touched())

	result, err := f.svc.Confirm(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Success)
	assert.Equal(t, []string{"DELETE FROM employees WHERE employee_id = 3"}, f.db.executed)

	_, err = f.svc.Confirm(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNoPendingQuery)
	assert.Len(t, f.db.executed, 1)
}

func TestAsk_PendingRequestDropsAPIKey(t *testing.T) {
	f := newFixture(t, returning("DELETE FROM employees"))
	req := askRequest("remove everyone")
	req.APIKey = "sk-secret"

	_, err := f.svc.Ask(context.Background(), "s1", req)
	require.NoError(t, err)

	sess, err := f.svc.Session(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sess.Gate.Pending)
	assert.Empty(t, sess.Gate.Pending.Request.APIKey)
}

func TestAsk_InvalidQueryStillCharged(t *testing.T) {
	f := newFixture(t, returning("I cannot help with that"))

	_, err := f.svc.Ask(context.Background(), "s1", askRequest("tell me a joke"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Zero(t, f.db.touched())

	sess, err := f.svc.Session(context.Background(), "s1")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, sess.Accounting.TotalCost, 1e-9)
	assert.Equal(t, gate.StateNoQueryPending, sess.Gate.State)
}

func TestAsk_InvalidRequestSkipsGeneration(t *testing.T) {
	f := newFixture(t, returning("SELECT 1"))

	_, err := f.svc.Ask(context.Background(), "s1", askRequest("   "))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, f.gen.calls)
}

func TestAsk_GenerationErrorLeavesSessionUntouched(t *testing.T) {
	gen := &mockGenerator{
		GenerateSQLFunc: func(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error) {
			return nil, domain.ErrGenerationFailed
		},
	}
	f := newFixture(t, gen)

	_, err := f.svc.Ask(context.Background(), "s1", askRequest("list employees"))
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)

	sess, err := f.svc.Session(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, sess.Accounting.APICalls)
}

func TestAsk_BudgetEnforced(t *testing.T) {
	f := newFixture(t, returning("SELECT 1"), func(c *Config) {
		c.EnforceBudget = true
		c.Costs = flatPrice(2)
	})
	ctx := context.Background()

	_, err := f.svc.SetBudget(ctx, "s1", 1)
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, "s1", askRequest("count employees"))
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, "s1", askRequest("count employees"))
	assert.ErrorIs(t, err, domain.ErrBudgetExceeded)
	assert.Equal(t, 1, f.gen.calls)
}

func TestAsk_BudgetAlertRaised(t *testing.T) {
	monitor := budget.NewMonitor()
	var alerts []budget.Alert
	monitor.OnAlert(func(ctx context.Context, alert budget.Alert) {
		alerts = append(alerts, alert)
	})
	f := newFixture(t, returning("SELECT 1"), func(c *Config) {
		c.Monitor = monitor
		c.Costs = flatPrice(0.95)
	})

	_, err := f.svc.Ask(context.Background(), "s1", askRequest("count employees"))
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, budget.AlertLevelWarning, alerts[0].Level)
	assert.Equal(t, "s1", alerts[0].SessionID)
}

func TestConfirm_BatchRunsEveryStatementIndependently(t *testing.T) {
	f := newFixture(t, returning("SELECT * FROM missing; UPDATE employees SET role = 'Lead' WHERE employee_id = 1; SELECT firstname FROM employees"))
	f.db.FetchErr = map[string]error{
		"SELECT * FROM missing": errors.New("no such table: missing"),
	}
	ctx := context.Background()

	answer, err := f.svc.Ask(ctx, "s1", askRequest("do several things"))
	require.NoError(t, err)
	assert.Equal(t, statement.RouteConfirmBatch, answer.Plan.Route)
	assert.Zero(t, f.db.touched())

	result, err := f.svc.Confirm(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	assert.Contains(t, result.Outcomes[0].Error, "Error processing query:")
	assert.EqualError(t, result.Outcomes[0].Err, "no such table: missing")
	assert.Contains(t, result.Outcomes[0].Error, "no such table")
	assert.True(t, result.Outcomes[1].Success)
	assert.Equal(t, domain.OutcomeExecuted, result.Outcomes[1].Kind)
	assert.Equal(t, domain.OutcomeFetched, result.Outcomes[2].Kind)
	assert.Len(t, result.Outcomes[2].Rows, 1)
}

func TestDeny_ExecutesNothing(t *testing.T) {
	f := newFixture(t, returning("DELETE FROM employees"))
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, "s1", askRequest("remove everyone"))
	require.NoError(t, err)

	pending, err := f.svc.Deny(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM employees;", pending.SQL)
	assert.Zero(t, f.db.touched())

	sess, err := f.svc.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, gate.StateDenied, sess.Gate.LastResolution)

	_, err = f.svc.Deny(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNoPendingQuery)
}

func TestRegenerate(t *testing.T) {
	t.Run("replaces pending batch with overrides", func(t *testing.T) {
		f := newFixture(t, returning("DELETE FROM employees", "DELETE FROM employees WHERE employee_id = 3"))
		ctx := context.Background()

		_, err := f.svc.Ask(ctx, "s1", askRequest("remove employee 3"))
		require.NoError(t, err)

		model := "gpt-4o"
		temp := 0.0
		answer, err := f.svc.Regenerate(ctx, "s1", Overrides{Model: &model, Temperature: &temp, APIKey: "sk-other"})
		require.NoError(t, err)

		assert.True(t, answer.AwaitingConfirmation)
		assert.Equal(t, "DELETE FROM employees WHERE employee_id = 3;", answer.Session.Gate.Pending.SQL)
		require.Len(t, f.gen.requests, 2)
		second := f.gen.requests[1]
		assert.Equal(t, "remove employee 3", second.Text)
		assert.Equal(t, "gpt-4o", second.Model)
		assert.Zero(t, second.Temperature)
		assert.Equal(t, 150, second.MaxTokens)
		assert.Equal(t, "sk-other", second.APIKey)
		assert.Equal(t, 2, answer.Session.Accounting.APICalls)
		assert.Zero(t, f.db.touched())
	})

	t.Run("read result resolves the gate", func(t *testing.T) {
		f := newFixture(t, returning("DELETE FROM employees", "SELECT firstname FROM employees"))
		ctx := context.Background()

		_, err := f.svc.Ask(ctx, "s1", askRequest("show employees"))
		require.NoError(t, err)

		answer, err := f.svc.Regenerate(ctx, "s1", Overrides{})
		require.NoError(t, err)
		assert.True(t, answer.Fetched)
		assert.False(t, answer.AwaitingConfirmation)
		assert.Equal(t, gate.StateNoQueryPending, answer.Session.Gate.State)
	})

	t.Run("batch resolved during generation is still charged", func(t *testing.T) {
		var f *fixture
		gen := returning("DELETE FROM employees", "DELETE FROM employees WHERE employee_id = 3")
		first := gen.GenerateSQLFunc
		gen.GenerateSQLFunc = func(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error) {
			if f.gen.calls == 2 {
				_, err := f.svc.Deny(ctx, "s1")
				require.NoError(t, err)
			}
			return first(ctx, req, schemaText)
		}
		f = newFixture(t, gen)
		ctx := context.Background()

		_, err := f.svc.Ask(ctx, "s1", askRequest("remove employee 3"))
		require.NoError(t, err)

		_, err = f.svc.Regenerate(ctx, "s1", Overrides{})
		assert.ErrorIs(t, err, domain.ErrNoPendingQuery)

		sess, err := f.svc.Session(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, sess.Accounting.APICalls)
		assert.InDelta(t, 0.02, sess.Accounting.TotalCost, 1e-9)
		assert.Equal(t, gate.StateDenied, sess.Gate.LastResolution)
		assert.Nil(t, sess.Gate.Pending)
		assert.Zero(t, f.db.touched())
	})

	t.Run("nothing pending", func(t *testing.T) {
		f := newFixture(t, returning("SELECT 1"))

		_, err := f.svc.Regenerate(context.Background(), "s1", Overrides{})
		assert.ErrorIs(t, err, domain.ErrNoPendingQuery)
		assert.Zero(t, f.gen.calls)
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("unrecognized text", func(t *testing.T) {
		f := newFixture(t, returning("SELECT 1"))
		_, err := f.svc.Execute(ctx, "", "DROP TABLE employees", true)
		assert.ErrorIs(t, err, domain.ErrInvalidQuery)
		assert.Zero(t, f.db.touched())
	})

	t.Run("without confirm a write cancels the whole batch", func(t *testing.T) {
		f := newFixture(t, returning("SELECT 1"))
		result, err := f.svc.Execute(ctx, "", "SELECT firstname FROM employees; DELETE FROM employees", false)
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.Empty(t, result.Outcomes)
		assert.Zero(t, f.db.touched())
	})

	t.Run("reads run without confirm", func(t *testing.T) {
		f := newFixture(t, returning("SELECT 1"))
		result, err := f.svc.Execute(ctx, "", "SELECT firstname FROM employees;", false)
		require.NoError(t, err)
		assert.False(t, result.Cancelled)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, domain.OutcomeFetched, result.Outcomes[0].Kind)
	})

	t.Run("confirmed batch runs in order", func(t *testing.T) {
		f := newFixture(t, returning("SELECT 1"))
		result, err := f.svc.Execute(ctx, "", "UPDATE employees SET role = 'Lead'; SELECT firstname FROM employees", true)
		require.NoError(t, err)
		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, []string{"UPDATE employees SET role = 'Lead'"}, f.db.executed)
		assert.Equal(t, []string{"SELECT firstname FROM employees"}, f.db.fetched)
	})

	t.Run("resolves the matching pending batch", func(t *testing.T) {
		f := newFixture(t, returning("DELETE FROM employees WHERE employee_id = 3"))
		_, err := f.svc.Ask(ctx, "s1", askRequest("remove employee 3"))
		require.NoError(t, err)

		result, err := f.svc.Execute(ctx, "s1", "DELETE FROM employees WHERE employee_id = 3;", false)
		require.NoError(t, err)
		assert.True(t, result.Cancelled)

		sess, err := f.svc.Session(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, sess.Gate.Awaiting())
		assert.Equal(t, gate.StateDenied, sess.Gate.LastResolution)
	})
}

func TestBuildTeam(t *testing.T) {
	gen := &mockGenerator{
		BuildTeamFunc: func(ctx context.Context, req domain.TeamRequest, roster string) (*domain.TeamResult, error) {
			assert.Contains(t, roster, "Alice Smith")
			return &domain.TeamResult{Recommendation: "Alice as backend lead", Model: "gpt-4o-mini-2024-07-18"}, nil
		},
	}
	f := newFixture(t, gen)

	answer, err := f.svc.BuildTeam(context.Background(), "s1", domain.TeamRequest{
		Description:        "payments platform",
		Model:              "gpt-4o-mini",
		Temperature:        0.5,
		CertaintyThreshold: 0.75,
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice as backend lead", answer.Result.Recommendation)
	assert.InDelta(t, 0.01, answer.Session.Accounting.TotalCost, 1e-9)
	assert.Zero(t, f.db.touched())
}

func TestResetSession(t *testing.T) {
	f := newFixture(t, returning("DELETE FROM employees"))
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, "s1", askRequest("remove everyone"))
	require.NoError(t, err)
	_, err = f.svc.SetBudget(ctx, "s1", 3)
	require.NoError(t, err)

	sess, err := f.svc.ResetSession(ctx, "s1")
	require.NoError(t, err)

	assert.Zero(t, sess.Accounting.TotalCost)
	assert.Zero(t, sess.Accounting.APICalls)
	assert.Equal(t, 3.0, sess.Accounting.Budget)
	assert.False(t, sess.Gate.Awaiting())
}

func TestSetBudget_OutOfRange(t *testing.T) {
	f := newFixture(t, returning("SELECT 1"))

	_, err := f.svc.SetBudget(context.Background(), "s1", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestConfirmationMessage(t *testing.T) {
	read, _ := statement.NewPlan("SELECT 1;")
	write, _ := statement.NewPlan("DELETE FROM t;")
	batch, _ := statement.NewPlan("DELETE FROM t; SELECT 1;")

	tests := []struct {
		name     string
		plan     statement.Plan
		accurate bool
		want     string
	}{
		{"read accurate", read, true, MessageAccurate},
		{"read biased", read, false, MessageBiased},
		{"write", write, true, MessageConfirm + "\n" + MessageAccurate},
		{"batch", batch, false, "Multiple queries detected (2). Do you want to proceed with all operations? Please confirm. \n" + MessageBiased},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfirmationMessage(tt.plan, tt.accurate))
		})
	}
}
