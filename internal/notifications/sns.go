// Package notifications delivers budget alerts outside the process.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/felipepmaragno/sqlassist/internal/budget"
)

type Kind string

const (
	KindBudgetWarning  Kind = "budget_warning"
	KindBudgetExceeded Kind = "budget_exceeded"
)

// Notification is the JSON body published for one budget alert.
type Notification struct {
	Kind         Kind      `json:"kind"`
	SessionID    string    `json:"session_id"`
	Message      string    `json:"message"`
	Budget       float64   `json:"budget"`
	TotalCost    float64   `json:"total_cost"`
	UsagePercent float64   `json:"usage_percent"`
	At           time.Time `json:"at"`
}

// FromAlert renders the user-facing wording of the alert.
func FromAlert(alert budget.Alert) Notification {
	n := Notification{
		Kind:         KindBudgetWarning,
		SessionID:    alert.SessionID,
		Message:      fmt.Sprintf("Approaching budget limit! %.1f%% used", alert.Percentage),
		Budget:       alert.Budget,
		TotalCost:    alert.CurrentUse,
		UsagePercent: alert.Percentage,
		At:           alert.Timestamp,
	}
	if alert.Level == budget.AlertLevelExceeded {
		n.Kind = KindBudgetExceeded
		n.Message = fmt.Sprintf("Budget exceeded! Current cost: $%.4f", alert.CurrentUse)
	}
	return n
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// SNSNotifier publishes to a topic. Subscribers can filter on the kind and
// session_id message attributes.
type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicArn: topicArn}, nil
}

func (s *SNSNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Subject:  aws.String("sqlassist " + string(n.Kind)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind":       stringAttribute(string(n.Kind)),
			"session_id": stringAttribute(n.SessionID),
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

func stringAttribute(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// Recorder keeps notifications in memory. It stands in for SNS when no topic
// is configured.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()

	slog.Info("budget notification recorded", "kind", n.Kind, "session_id", n.SessionID)
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// BudgetAlertHandler publishes budget alerts through n. Delivery failures are
// logged and never reach the request that crossed the line.
func BudgetAlertHandler(n Notifier) budget.AlertHandler {
	return func(ctx context.Context, alert budget.Alert) {
		notification := FromAlert(alert)
		if err := n.Send(ctx, notification); err != nil {
			slog.Error("failed to send budget notification",
				"session_id", alert.SessionID,
				"kind", notification.Kind,
				"error", err,
			)
			return
		}
		slog.Info("budget notification sent", "kind", notification.Kind, "session_id", alert.SessionID)
	}
}
