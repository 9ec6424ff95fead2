package generator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/felipepmaragno/sqlassist/internal/circuitbreaker"
	"github.com/felipepmaragno/sqlassist/internal/domain"
)

type guardedCompleter struct {
	next    Completer
	breaker circuitbreaker.CircuitBreaker
}

// Guard fails calls fast while breaker is open. Only endpoint failures count
// against the breaker: transport errors, 5xx and 429. A cancelled request or
// one rejected for its own key or payload does not, since the breaker is
// shared by every session.
func Guard(next Completer, breaker circuitbreaker.CircuitBreaker) Completer {
	return &guardedCompleter{next: next, breaker: breaker}
}

func (g *guardedCompleter) Complete(ctx context.Context, apiKey string, req domain.CompletionRequest) (*domain.Completion, error) {
	if err := g.breaker.Allow(ctx); err != nil {
		slog.Warn("LLM call rejected by circuit breaker", "model", req.Model)
		return nil, err
	}

	completion, err := g.next.Complete(ctx, apiKey, req)
	switch {
	case err == nil:
		g.breaker.RecordSuccess(ctx)
	case ctx.Err() != nil, callerFault(err):
	default:
		g.breaker.RecordFailure(ctx)
	}
	return completion, err
}

func callerFault(err error) bool {
	var pe *domain.ProviderError
	return errors.As(err, &pe) && pe.CallerFault()
}
