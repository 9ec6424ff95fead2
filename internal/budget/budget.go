package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
)

const (
	DefaultBudget = 1.0
	MaxBudget     = 5.0

	// WarningRatio is the share of the budget above which a session is warned.
	WarningRatio = 0.9
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Accounting is the running cost of one interactive session. It only grows
// until Reset is called explicitly.
type Accounting struct {
	TotalCost float64 `json:"total_cost"`
	APICalls  int     `json:"api_calls"`
	Budget    float64 `json:"budget"`
}

func NewAccounting(budget float64) Accounting {
	return Accounting{Budget: budget}
}

// Add records one successful LLM call. Each call site adds its own cost exactly once.
func (a *Accounting) Add(cost float64) {
	a.TotalCost += cost
	a.APICalls++
}

// Reset zeroes cost and call count; the budget is kept.
func (a *Accounting) Reset() {
	a.TotalCost = 0
	a.APICalls = 0
}

func (a *Accounting) SetBudget(budget float64) error {
	if budget < 0 || budget > MaxBudget {
		return fmt.Errorf("%w: budget must be within [0, %.0f]", domain.ErrInvalidRequest, MaxBudget)
	}
	a.Budget = budget
	return nil
}

func (a Accounting) UsageRatio() float64 {
	if a.Budget <= 0 {
		return 0
	}
	return a.TotalCost / a.Budget
}

func (a Accounting) Status() Status {
	switch {
	case a.TotalCost > a.Budget:
		return StatusExceeded
	case a.TotalCost > a.Budget*WarningRatio:
		return StatusWarning
	default:
		return StatusOK
	}
}

func (a Accounting) Exceeded() bool {
	return a.Status() == StatusExceeded
}

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	SessionID  string
	Level      AlertLevel
	Budget     float64
	CurrentUse float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(ctx context.Context, alert Alert)

type Monitor struct {
	mu            sync.RWMutex
	alertHandlers []AlertHandler
	dedup         AlertDeduplicator
}

type Option func(*Monitor)

func WithDeduplicator(d AlertDeduplicator) Option {
	return func(m *Monitor) {
		m.dedup = d
	}
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		alertHandlers: make([]AlertHandler, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dedup == nil {
		m.dedup = NewInMemoryDeduplicator()
	}
	return m
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// Check raises at most one alert per session and level. A session back under
// the warning line is cleared so later crossings alert again.
func (m *Monitor) Check(ctx context.Context, sessionID string, acct Accounting) *Alert {
	var level AlertLevel
	switch acct.Status() {
	case StatusExceeded:
		level = AlertLevelExceeded
	case StatusWarning:
		level = AlertLevelWarning
	default:
		m.dedup.ClearAlert(ctx, sessionID)
		return nil
	}

	if !m.dedup.ShouldAlert(ctx, sessionID, level) {
		return nil
	}

	alert := &Alert{
		SessionID:  sessionID,
		Level:      level,
		Budget:     acct.Budget,
		CurrentUse: acct.TotalCost,
		Percentage: acct.UsageRatio() * 100,
		Timestamp:  time.Now(),
	}

	metrics.RecordBudgetAlert(string(level))

	m.mu.RLock()
	handlers := make([]AlertHandler, len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, *alert)
	}

	return alert
}

func LogAlertHandler(ctx context.Context, alert Alert) {
	slog.Warn("budget alert",
		"session_id", alert.SessionID,
		"level", alert.Level,
		"budget", alert.Budget,
		"current_use", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}
