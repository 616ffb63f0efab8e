package broker

import (
	"context"
	"errors"
	"log/slog"
)

// Lifecycle is the part of Client that Monitor drives.
type Lifecycle interface {
	Events() <-chan Event
	Resubscribe(ctx context.Context) error
}

// Monitor logs lifecycle events until ctx is done or the connection is
// closed. When a connection resumes without a broker-side session it
// re-subscribes; a rejected re-subscription is returned as a fatal
// *RejectedError. Other re-subscription failures are logged and retried on
// the next resume.
func Monitor(ctx context.Context, lc Lifecycle, logger *slog.Logger) error {
	events := lc.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case ConnectSucceeded:
				logger.Info("broker connection established", "session_present", ev.SessionPresent)
			case ConnectFailed:
				logger.Warn("broker connection failed", "error", ev.Err)
			case Interrupted:
				logger.Warn("broker connection interrupted", "error", ev.Err)
			case Resumed:
				logger.Info("broker connection resumed", "session_present", ev.SessionPresent)
				if ev.SessionPresent {
					continue
				}
				if err := lc.Resubscribe(ctx); err != nil {
					var rejected *RejectedError
					if errors.As(err, &rejected) {
						return err
					}
					if ctx.Err() != nil {
						return nil
					}
					logger.Warn("re-subscription failed", "error", err)
				}
			case Closed:
				logger.Info("broker connection closed")
				return nil
			}
		}
	}
}
