package rendezvous

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotReady is returned (wrapped) by WaitForRendezvousReady's retryable
// case; callers distinguish "gave up waiting" from "WH process died" with
// errors.Is against this versus the underlying RPC error.
var ErrNotReady = errors.New("rendezvous: host process not yet ready")

// WaitForRendezvousReady polls sup.Status until RendezvousReady is true,
// WH has crashed (the RPC call itself fails), or ctx's deadline passes.
// It replaces the hand-rolled sleep loop yabridge's own process
// supervision would use with a capped exponential backoff, so a WH that
// comes up quickly doesn't pay a fixed polling interval's worth of
// latency before NP starts accepting channels.
func WaitForRendezvousReady(ctx context.Context, sup *SupervisorClient) error {
	backoff := retry.WithMaxDuration(10*time.Second, retry.NewExponential(10*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := sup.Status()
		if err != nil {
			// The process is gone or unresponsive; no point retrying.
			return err
		}
		if !status.RendezvousReady {
			return retry.RetryableError(ErrNotReady)
		}
		return nil
	})
}
