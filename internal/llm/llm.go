package llm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pavelanni/lynki/internal/apperr"
)

// StopReason tells why the model stopped producing output.
type StopReason string

const (
	StopComplete  StopReason = "complete"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage holds token counts of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is a single-turn completion request.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is the model's answer to a Request.
type Completion struct {
	Text       string
	StopReason StopReason
	Usage      Usage
}

// Truncated reports whether the output hit the token limit.
func (c Completion) Truncated() bool {
	return c.StopReason == StopMaxTokens
}

// Completer calls a language model. Implementations classify failures as
// apperr.Timeout or apperr.Connection where they can.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Model() string
}

// CompleteWithTimeout issues req with its own deadline. A deadline hit by
// this call (not by the parent context) is reported as apperr.Timeout.
func CompleteWithTimeout(ctx context.Context, c Completer, req Request, timeout time.Duration) (Completion, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.Complete(callCtx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !apperr.Is(err, apperr.Timeout) {
		return Completion{}, apperr.Wrap(apperr.Timeout, err, "completion timed out")
	}
	return Completion{}, err
}

// classify maps transport failures shared by every backend. It returns err
// unchanged when nothing matches.
func classify(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Timeout, err, "completion timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.Wrap(apperr.Timeout, err, "completion timed out")
		}
		return apperr.Wrap(apperr.Connection, err, "completion service unreachable")
	}
	if statusCode == 429 || statusCode >= 500 {
		return apperr.Wrap(apperr.Connection, err, "completion service unavailable")
	}
	return err
}
