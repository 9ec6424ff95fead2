package domain

import (
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is what the generator hands to an LLM provider.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	LogProbs    bool
}

type TokenLogProb struct {
	Token   string
	LogProb float64
}

// Completion is the provider-neutral view of the first choice of a chat completion.
// LogProbs is nil when the provider returned no log-probability stream.
type Completion struct {
	ID           string
	Model        string
	Text         string
	FinishReason FinishReason
	Usage        Usage
	LogProbs     []TokenLogProb
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// NewUsage derives CachedTokens as max(0, prompt-completion). This is a legacy
// compatibility formula, not a provider cache-hit signal.
func NewUsage(promptTokens, completionTokens, totalTokens int) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		CachedTokens:     max(0, promptTokens-completionTokens),
	}
}

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonToolCalls     FinishReason = "tool_calls"
)

var finishReasonAnnotations = map[FinishReason]string{
	FinishReasonStop:          "stop -> Response completed naturally ✅",
	FinishReasonLength:        "length -> Response was cut off due to the token limit ⚠️",
	FinishReasonContentFilter: "content filter -> Response stopped due to content filters ⚠️",
	FinishReasonFunctionCall:  "function call -> Model decided to call a function instead of returning a normal response 🔧",
	FinishReasonToolCalls:     "tool calls -> Model invoked one or more tools (e.g., API calls, functions).",
}

// Annotation returns the human-readable note shown next to a finish reason.
func (f FinishReason) Annotation() string {
	if s, ok := finishReasonAnnotations[f]; ok {
		return s
	}
	return "Unknown reason"
}

// GenerationRequest is immutable once built; APIKey may be empty, in which case
// the process-wide default key is used.
type GenerationRequest struct {
	Text               string
	Model              string
	Temperature        float64
	MaxTokens          int
	CertaintyThreshold float64
	APIKey             string
}

func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: no message provided", ErrInvalidRequest)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be within [0, 1]", ErrInvalidRequest)
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidRequest)
	}
	if r.CertaintyThreshold <= 0 || r.CertaintyThreshold > 1 {
		return fmt.Errorf("%w: certainty_threshold must be within (0, 1]", ErrInvalidRequest)
	}
	return nil
}

type TokenProbability struct {
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
}

// Confidence summarises token probabilities of one completion. Min and Avg are
// nil when the provider omitted log-probabilities, and MeetsThreshold is then false.
type Confidence struct {
	Tokens         []TokenProbability
	Min            *float64
	Avg            *float64
	Threshold      float64
	MeetsThreshold bool
}

type GenerationResult struct {
	SQL          string
	Statements   []Statement
	ResponseID   string
	Model        string
	FinishReason FinishReason
	Usage        Usage
	Confidence   Confidence
	Request      GenerationRequest
}

type TeamRequest struct {
	Description        string
	Model              string
	Temperature        float64
	CertaintyThreshold float64
	APIKey             string
}

func (r TeamRequest) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: please provide a valid project description", ErrInvalidRequest)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be within [0, 1]", ErrInvalidRequest)
	}
	if r.CertaintyThreshold <= 0 || r.CertaintyThreshold > 1 {
		return fmt.Errorf("%w: certainty_threshold must be within (0, 1]", ErrInvalidRequest)
	}
	return nil
}

type TeamResult struct {
	Recommendation string
	ResponseID     string
	Model          string
	FinishReason   FinishReason
	Usage          Usage
	Confidence     Confidence
	Request        TeamRequest
}

type StatementKind string

const (
	StatementRead  StatementKind = "read"
	StatementWrite StatementKind = "write"
)

type Statement struct {
	Text string        `json:"text"`
	Kind StatementKind `json:"kind"`
}

func (s Statement) IsRead() bool {
	return s.Kind == StatementRead
}

type Row map[string]any

type OutcomeKind string

const (
	OutcomeFetched  OutcomeKind = "fetched"
	OutcomeExecuted OutcomeKind = "executed"
)

// ExecutionOutcome is either Fetched (Rows set) or Executed (Success/Message set).
// Error carries the driver message of a failed statement and Err the cause,
// wrapping ErrExecutionFailed or ErrFetchFailed.
type ExecutionOutcome struct {
	Statement string
	Kind      OutcomeKind
	Rows      []Row
	Success   bool
	Message   string
	Error     string
	Err       error
}

func Fetched(statement string, rows []Row) ExecutionOutcome {
	return ExecutionOutcome{
		Statement: statement,
		Kind:      OutcomeFetched,
		Rows:      rows,
		Success:   true,
	}
}

type Column struct {
	Name     string `json:"column_name"`
	DataType string `json:"data_type"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s → %s.%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  string       `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Schema is a read-only snapshot of the live catalog. Tables keep the order in
// which the column query returned them.
type Schema struct {
	Database string   `json:"database"`
	Tables   []*Table `json:"tables"`
}

func (s *Schema) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Text renders the snapshot for prompt grounding.
func (s *Schema) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", s.Database)
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "\nTable: %s\n", t.Name)
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, fmt.Sprintf("%s (%s)", c.Name, c.DataType))
		}
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(cols, ", "))
		if t.PrimaryKey != "" {
			fmt.Fprintf(&b, "Primary Key: %s\n", t.PrimaryKey)
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "Foreign Key: %s\n", fk)
		}
	}
	return b.String()
}
