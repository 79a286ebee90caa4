package advisor

import (
	"context"
	"fmt"
	"time"

	holoerr "holodex/internal/errors"
	"holodex/internal/logging"
)

// Advisor produces a short free-form suggestion for a composed
// result. Implementations may call out of process; the orchestrator
// only ever invokes them through Advise, which enforces the timeout.
type Advisor interface {
	Advise(ctx context.Context, prompt string) (string, error)
}

// Templated is the built-in fallback advisor. It never blocks and
// never fails, so it doubles as the degraded path when a real
// advisor times out.
type Templated struct{}

func (Templated) Advise(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("Review the findings above and narrow the query if needed (context: %s)", prompt), nil
}

// Advise runs an advisor with a hard deadline. On timeout or error
// it falls back to the templated advisor so callers always get a
// suggestion line.
func Advise(ctx context.Context, a Advisor, timeout time.Duration, prompt string, logger *logging.Logger) string {
	if a == nil {
		a = Templated{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := a.Advise(ctx, prompt)
		ch <- reply{text: text, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil {
			return r.text
		}
		logger.Warn("Advisor failed, using templated fallback", map[string]interface{}{
			"error": r.err.Error(),
		})
	case <-ctx.Done():
		logger.Warn("Advisor timed out, using templated fallback", map[string]interface{}{
			"code":    string(holoerr.Timeout),
			"timeout": timeout.String(),
		})
	}

	text, _ := Templated{}.Advise(context.Background(), prompt)
	return text
}
