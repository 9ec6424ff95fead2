// Package generator turns user text into SQL (or a team recommendation) through
// an LLM and scores how much the model trusted its own output.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
	"github.com/felipepmaragno/sqlassist/internal/prompt"
	"github.com/felipepmaragno/sqlassist/internal/statement"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

// TeamMaxTokens is the fixed completion budget for team building.
const TeamMaxTokens = 800

type Completer interface {
	Complete(ctx context.Context, apiKey string, req domain.CompletionRequest) (*domain.Completion, error)
}

// KeySource yields the process-wide default API key.
type KeySource interface {
	DefaultKey(ctx context.Context) (string, error)
}

type Config struct {
	SQL  Completer
	Team Completer // falls back to SQL when nil
	Keys KeySource
}

type Generator struct {
	sql  Completer
	team Completer
	keys KeySource
}

func New(cfg Config) *Generator {
	team := cfg.Team
	if team == nil {
		team = cfg.SQL
	}
	return &Generator{
		sql:  cfg.SQL,
		team: team,
		keys: cfg.Keys,
	}
}

// ResolveKey prefers the key carried by the request over the default one.
func (g *Generator) ResolveKey(ctx context.Context, requestKey string) (string, error) {
	if requestKey != "" {
		return requestKey, nil
	}
	if g.keys != nil {
		key, err := g.keys.DefaultKey(ctx)
		if err != nil {
			slog.Warn("default API key unavailable", "error", err)
		}
		if key != "" {
			return key, nil
		}
	}
	return "", domain.ErrMissingCredential
}

// GenerateSQL produces normalized SQL for req grounded on schemaText.
func (g *Generator) GenerateSQL(ctx context.Context, req domain.GenerationRequest, schemaText string) (*domain.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	apiKey, err := g.ResolveKey(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "generator.GenerateSQL")
	defer span.End()

	start := time.Now()
	completion, err := g.sql.Complete(ctx, apiKey, domain.CompletionRequest{
		Model:       req.Model,
		Messages:    prompt.CRUD(schemaText, req.Text),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		LogProbs:    true,
	})
	if err != nil {
		metrics.RecordGeneration("sql", req.Model, "error", time.Since(start).Seconds())
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}

	sql := statement.Format(completion.Text)
	conf := Score(completion.LogProbs, req.CertaintyThreshold, SQLAverageDecimals)

	result := &domain.GenerationResult{
		SQL:          sql,
		Statements:   statement.Split(sql),
		ResponseID:   completion.ID,
		Model:        completion.Model,
		FinishReason: completion.FinishReason,
		Usage:        completion.Usage,
		Confidence:   conf,
		Request:      req,
	}

	record("sql", req.Model, completion, conf, time.Since(start))
	telemetry.AddGenerationAttributes(span, completion.Model, completion.Usage, conf.MeetsThreshold)

	slog.Debug("sql generated",
		"model", completion.Model,
		"query", sql,
		"meets_threshold", conf.MeetsThreshold,
		"finish_reason", completion.FinishReason,
	)

	return result, nil
}

// BuildTeam asks the model for an ideal team composition matched against roster.
func (g *Generator) BuildTeam(ctx context.Context, req domain.TeamRequest, roster string) (*domain.TeamResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	apiKey, err := g.ResolveKey(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "generator.BuildTeam")
	defer span.End()

	start := time.Now()
	completion, err := g.team.Complete(ctx, apiKey, domain.CompletionRequest{
		Model:       req.Model,
		Messages:    prompt.Team(req.Description, roster),
		Temperature: req.Temperature,
		MaxTokens:   TeamMaxTokens,
		LogProbs:    true,
	})
	if err != nil {
		metrics.RecordGeneration("team", req.Model, "error", time.Since(start).Seconds())
		telemetry.RecordError(span, err)
		slog.Error("team building failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}

	conf := Score(completion.LogProbs, req.CertaintyThreshold, TeamAverageDecimals)

	record("team", req.Model, completion, conf, time.Since(start))
	telemetry.AddGenerationAttributes(span, completion.Model, completion.Usage, conf.MeetsThreshold)

	return &domain.TeamResult{
		Recommendation: completion.Text,
		ResponseID:     completion.ID,
		Model:          completion.Model,
		FinishReason:   completion.FinishReason,
		Usage:          completion.Usage,
		Confidence:     conf,
		Request:        req,
	}, nil
}

func record(kind, model string, c *domain.Completion, conf domain.Confidence, elapsed time.Duration) {
	metrics.RecordGeneration(kind, model, "success", elapsed.Seconds())
	metrics.RecordTokens(kind, model, c.Usage.PromptTokens, c.Usage.CompletionTokens, c.Usage.CachedTokens)
	if !conf.MeetsThreshold {
		metrics.RecordLowConfidence(kind, model)
	}
}
