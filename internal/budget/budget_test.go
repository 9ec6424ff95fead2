package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

func TestAccounting_Add(t *testing.T) {
	acct := NewAccounting(DefaultBudget)

	acct.Add(0.25)
	acct.Add(0.5)

	if acct.APICalls != 2 {
		t.Errorf("APICalls = %d, want 2", acct.APICalls)
	}
	if acct.TotalCost != 0.75 {
		t.Errorf("TotalCost = %v, want 0.75", acct.TotalCost)
	}
}

func TestAccounting_Reset(t *testing.T) {
	acct := NewAccounting(2.0)
	acct.Add(1.5)

	acct.Reset()

	if acct.TotalCost != 0 || acct.APICalls != 0 {
		t.Errorf("Reset() left cost=%v calls=%d", acct.TotalCost, acct.APICalls)
	}
	if acct.Budget != 2.0 {
		t.Errorf("Reset() must keep budget, got %v", acct.Budget)
	}
}

func TestAccounting_SetBudget(t *testing.T) {
	tests := []struct {
		name    string
		budget  float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"default", DefaultBudget, false},
		{"max", MaxBudget, false},
		{"negative", -1, true},
		{"above max", MaxBudget + 0.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := NewAccounting(DefaultBudget)
			err := acct.SetBudget(tt.budget)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidRequest) {
					t.Errorf("SetBudget(%v) error = %v, want ErrInvalidRequest", tt.budget, err)
				}
				if acct.Budget != DefaultBudget {
					t.Errorf("rejected budget must not be applied, got %v", acct.Budget)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetBudget(%v) error = %v", tt.budget, err)
			}
			if acct.Budget != tt.budget {
				t.Errorf("Budget = %v, want %v", acct.Budget, tt.budget)
			}
		})
	}
}

func TestAccounting_Status(t *testing.T) {
	tests := []struct {
		name   string
		cost   float64
		budget float64
		want   Status
	}{
		{"nothing spent", 0, 1, StatusOK},
		{"half spent", 0.5, 1, StatusOK},
		{"exactly at warning line", 0.9, 1, StatusOK},
		{"above warning line", 0.95, 1, StatusWarning},
		{"exactly at budget", 1, 1, StatusWarning},
		{"over budget", 1.01, 1, StatusExceeded},
		{"zero budget untouched", 0, 0, StatusOK},
		{"zero budget spent", 0.001, 0, StatusExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := Accounting{TotalCost: tt.cost, Budget: tt.budget}
			if got := acct.Status(); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccounting_UsageRatio(t *testing.T) {
	acct := Accounting{TotalCost: 0.5, Budget: 2}
	if got := acct.UsageRatio(); got != 0.25 {
		t.Errorf("UsageRatio() = %v, want 0.25", got)
	}

	acct = Accounting{TotalCost: 0.5, Budget: 0}
	if got := acct.UsageRatio(); got != 0 {
		t.Errorf("UsageRatio() with zero budget = %v, want 0", got)
	}
}

func TestMonitor_Check_UnderBudget(t *testing.T) {
	monitor := NewMonitor()

	alert := monitor.Check(context.Background(), "s1", Accounting{TotalCost: 0.5, Budget: 1})
	if alert != nil {
		t.Error("Check() should return nil alert when under warning threshold")
	}
}

func TestMonitor_Check_WarningLevel(t *testing.T) {
	monitor := NewMonitor()

	alert := monitor.Check(context.Background(), "s1", Accounting{TotalCost: 0.95, Budget: 1})
	if alert == nil {
		t.Fatal("Check() should return alert at warning level")
	}
	if alert.Level != AlertLevelWarning {
		t.Errorf("alert.Level = %v, want %v", alert.Level, AlertLevelWarning)
	}
	if alert.SessionID != "s1" {
		t.Errorf("alert.SessionID = %v, want s1", alert.SessionID)
	}
}

func TestMonitor_Check_ExceededLevel(t *testing.T) {
	monitor := NewMonitor()

	alert := monitor.Check(context.Background(), "s1", Accounting{TotalCost: 1.1, Budget: 1})
	if alert == nil {
		t.Fatal("Check() should return alert when exceeded")
	}
	if alert.Level != AlertLevelExceeded {
		t.Errorf("alert.Level = %v, want %v", alert.Level, AlertLevelExceeded)
	}
}

func TestMonitor_Check_NoRepeatAlerts(t *testing.T) {
	monitor := NewMonitor()
	acct := Accounting{TotalCost: 0.95, Budget: 1}

	if monitor.Check(context.Background(), "s1", acct) == nil {
		t.Fatal("First check should return alert")
	}
	if monitor.Check(context.Background(), "s1", acct) != nil {
		t.Error("Second check at same level should not return alert")
	}

	acct.TotalCost = 1.2
	if monitor.Check(context.Background(), "s1", acct) == nil {
		t.Error("Escalation to exceeded should alert")
	}
}

func TestMonitor_Check_ResetClearsAlerts(t *testing.T) {
	monitor := NewMonitor()
	acct := Accounting{TotalCost: 0.95, Budget: 1}

	monitor.Check(context.Background(), "s1", acct)

	acct.Reset()
	if monitor.Check(context.Background(), "s1", acct) != nil {
		t.Error("Reset session should not alert")
	}

	acct.TotalCost = 0.95
	if monitor.Check(context.Background(), "s1", acct) == nil {
		t.Error("Crossing the warning line again should alert")
	}
}

func TestMonitor_OnAlert(t *testing.T) {
	monitor := NewMonitor()

	var receivedAlert *Alert
	monitor.OnAlert(func(ctx context.Context, a Alert) {
		receivedAlert = &a
	})

	monitor.Check(context.Background(), "s1", Accounting{TotalCost: 0.95, Budget: 1})

	if receivedAlert == nil {
		t.Fatal("Alert handler should have been called")
	}
	if receivedAlert.SessionID != "s1" {
		t.Errorf("receivedAlert.SessionID = %v, want s1", receivedAlert.SessionID)
	}
}

func TestLogAlertHandler(t *testing.T) {
	alert := Alert{
		SessionID:  "s1",
		Level:      AlertLevelWarning,
		Budget:     1.0,
		CurrentUse: 0.95,
		Percentage: 95.0,
		Timestamp:  time.Now(),
	}

	LogAlertHandler(context.Background(), alert)
}
