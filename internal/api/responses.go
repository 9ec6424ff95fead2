package api

import (
	"net/http"

	"github.com/felipepmaragno/sqlassist/internal/assistant"
	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/repository"
	"github.com/felipepmaragno/sqlassist/internal/session"
)

// usageData is the part of response_data shared by query generation and
// team building.
type usageData struct {
	ResponseID         string   `json:"response_id"`
	FinishReason       string   `json:"finish_reason"`
	TotalTokens        int      `json:"total_tokens"`
	PromptTokens       int      `json:"prompt_tokens"`
	CompletionTokens   int      `json:"completion_tokens"`
	CachedTokens       int      `json:"cached_tokens"`
	MinProb            *float64 `json:"min_prob"`
	AvgProb            *float64 `json:"avg_prob"`
	CertaintyThreshold float64  `json:"certainty_threshold"`
	ValidProbThreshold bool     `json:"valid_prob_threshold"`
	Model              string   `json:"model"`
	Temperature        float64  `json:"temperature"`
	Cost               float64  `json:"cost"`
}

func newUsageData(id, model string, reason domain.FinishReason, usage domain.Usage, conf domain.Confidence, temperature, cost float64) usageData {
	return usageData{
		ResponseID:         id,
		FinishReason:       reason.Annotation(),
		TotalTokens:        usage.TotalTokens,
		PromptTokens:       usage.PromptTokens,
		CompletionTokens:   usage.CompletionTokens,
		CachedTokens:       usage.CachedTokens,
		MinProb:            conf.Min,
		AvgProb:            conf.Avg,
		CertaintyThreshold: conf.Threshold,
		ValidProbThreshold: conf.MeetsThreshold,
		Model:              model,
		Temperature:        temperature,
		Cost:               cost,
	}
}

type responseData struct {
	Query     string                    `json:"query"`
	TokenProb []domain.TokenProbability `json:"token_prob"`
	usageData
}

type answerResponse struct {
	GeneratedQuery       string       `json:"generated_query"`
	ApprovedAccuracy     bool         `json:"approved_accuracy"`
	ConfirmationMessage  string       `json:"confirmation_message"`
	AwaitingConfirmation bool         `json:"awaiting_confirmation"`
	FetchedData          any          `json:"fetched_data,omitempty"`
	ResponseData         responseData `json:"response_data"`
}

func newAnswerResponse(a *assistant.Answer) answerResponse {
	gen := a.Generation
	resp := answerResponse{
		GeneratedQuery:       gen.SQL,
		ApprovedAccuracy:     gen.Confidence.MeetsThreshold,
		ConfirmationMessage:  a.ConfirmationMessage(),
		AwaitingConfirmation: a.AwaitingConfirmation,
		ResponseData: responseData{
			Query:     gen.SQL,
			TokenProb: gen.Confidence.Tokens,
			usageData: newUsageData(gen.ResponseID, gen.Model, gen.FinishReason, gen.Usage, gen.Confidence, gen.Request.Temperature, a.Cost),
		},
	}
	if a.Fetched {
		resp.FetchedData = fetchedData(a.Rows)
	}
	return resp
}

type teamResponse struct {
	Composition  string    `json:"Ideal Team Composition"`
	ResponseData usageData `json:"team_builder_response_data"`
}

func newTeamResponse(a *assistant.TeamAnswer) teamResponse {
	res := a.Result
	return teamResponse{
		Composition:  res.Recommendation,
		ResponseData: newUsageData(res.ResponseID, res.Model, res.FinishReason, res.Usage, res.Confidence, res.Request.Temperature, a.Cost),
	}
}

// fetchedData reports an empty result set as a fixed marker string.
func fetchedData(rows []domain.Row) any {
	if len(rows) == 0 {
		return repository.MessageNoRows
	}
	return rows
}

func outcomeEntry(o domain.ExecutionOutcome) map[string]any {
	entry := map[string]any{"generated_query": o.Statement}
	switch {
	case o.Error != "":
		entry["error"] = o.Error
		if o.Message != "" {
			entry["message"] = o.Message
		}
		if o.Err != nil {
			_, kind := classify(o.Err)
			entry["error_type"] = kind
		}
	case o.Kind == domain.OutcomeFetched:
		entry["fetched_data"] = fetchedData(o.Rows)
	default:
		entry["success"] = o.Success
		entry["message"] = o.Message
	}
	return entry
}

func writeBatch(w http.ResponseWriter, result *assistant.BatchResult) {
	if result.Cancelled {
		writeJSON(w, http.StatusOK, map[string]string{"response": assistant.MessageCancelled})
		return
	}

	queries := make([]map[string]any, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		queries = append(queries, outcomeEntry(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

type sessionResponse struct {
	SessionID    string  `json:"session_id"`
	TotalCost    float64 `json:"total_cost"`
	APICalls     int     `json:"api_calls"`
	Budget       float64 `json:"budget"`
	UsageRatio   float64 `json:"usage_ratio"`
	BudgetStatus string  `json:"budget_status"`
	GateState    string  `json:"gate_state"`
	PendingQuery string  `json:"pending_query,omitempty"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:    s.ID,
		TotalCost:    s.Accounting.TotalCost,
		APICalls:     s.Accounting.APICalls,
		Budget:       s.Accounting.Budget,
		UsageRatio:   s.Accounting.UsageRatio(),
		BudgetStatus: string(s.Accounting.Status()),
		GateState:    string(s.Gate.State),
	}
	if s.Gate.Pending != nil {
		resp.PendingQuery = s.Gate.Pending.SQL
	}
	return resp
}
