package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// HistorySink is the append-only audit log for attempts. The chain
// writes one entry per attempt and never reads it back.
type HistorySink interface {
	RecordAttempt(ctx context.Context, sender string, outcome model.AttemptOutcome) error
}

// Limiter throttles strategy executions. Release must be safe to call
// exactly once per successful Acquire.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
	HandleThrottled(retryAfter time.Duration)
}

// Result is the terminal state of one sender's chain: first success
// wins, or exhausted failure when every applicable strategy failed (or
// none applied).
type Result struct {
	Success  bool
	Pending  bool
	Message  string
	Strategy string
}

// Chain tries strategies for one sender in fixed priority order.
type Chain struct {
	strategies []Strategy
	history    HistorySink
	limiter    Limiter
	log        *slog.Logger
}

// NewChain builds the standard chain: header link, then direct link,
// then mailto. The most standardized and verifiable mechanism goes
// first, the optimistic last resort at the end.
func NewChain(sender MailSender, history HistorySink, limiter Limiter, log *slog.Logger) *Chain {
	return &Chain{
		strategies: []Strategy{
			NewHeaderLink(),
			NewDirectLink(),
			NewMailto(sender),
		},
		history: history,
		limiter: limiter,
		log:     log,
	}
}

// NewChainWith builds a chain over an explicit strategy list. Used by
// tests and callers that need a reduced chain.
func NewChainWith(strategies []Strategy, history HistorySink, limiter Limiter, log *slog.Logger) *Chain {
	return &Chain{strategies: strategies, history: history, limiter: limiter, log: log}
}

// Execute runs the chain for one sender's pooled signals. Every
// attempt, success or failure, is recorded to the history sink. A
// strategy that panics (a contract violation) is converted into a
// failed attempt and the chain continues. Throttled outcomes pause the
// limiter before the next attempt.
func (c *Chain) Execute(ctx context.Context, sender string, sig extract.Signals) Result {
	attempted := 0

	for _, strat := range c.strategies {
		if !strat.CanHandle(sig) {
			continue
		}
		attempted++

		outcome := c.runOne(ctx, strat, sig)
		c.record(ctx, sender, outcome)

		if outcome.Throttled {
			c.limiter.HandleThrottled(outcome.RetryAfter)
		}
		if outcome.Success {
			c.log.Info("unsubscribe succeeded",
				"sender", sender,
				"strategy", outcome.Strategy,
				"pending", outcome.Pending,
			)
			return Result{
				Success:  true,
				Pending:  outcome.Pending,
				Message:  outcome.Message,
				Strategy: outcome.Strategy,
			}
		}
		c.log.Info("unsubscribe attempt failed",
			"sender", sender,
			"strategy", outcome.Strategy,
			"message", outcome.Message,
		)
	}

	if attempted == 0 {
		return Result{Message: "no unsubscribe mechanism available"}
	}
	return Result{Message: fmt.Sprintf("all %d applicable strategies failed", attempted)}
}

// runOne executes a single strategy, wrapped in the rate limiter and a
// panic guard. Strategies are contracted not to panic; a violation is
// folded into a failed outcome rather than aborting the chain.
func (c *Chain) runOne(ctx context.Context, strat Strategy, sig extract.Signals) (outcome model.AttemptOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.AttemptOutcome{
				Strategy: strat.Name(),
				Message:  fmt.Sprintf("strategy panicked: %v", r),
			}
		}
	}()

	if err := c.limiter.Acquire(ctx); err != nil {
		return model.AttemptOutcome{
			Strategy: strat.Name(),
			Message:  fmt.Sprintf("rate limiter: %v", err),
		}
	}
	defer c.limiter.Release()

	return strat.Execute(ctx, sig)
}

// record appends the attempt to the audit trail. A sink failure never
// interrupts the chain.
func (c *Chain) record(ctx context.Context, sender string, outcome model.AttemptOutcome) {
	if err := c.history.RecordAttempt(ctx, sender, outcome); err != nil {
		c.log.Warn("recording attempt failed",
			"sender", sender,
			"strategy", outcome.Strategy,
			"error", err,
		)
	}
}
