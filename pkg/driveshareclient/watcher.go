package driveshareclient

import (
	"context"
	"time"
)

// WatchNotifications polls the caller's unacknowledged notifications and
// delivers each one once, oldest first, until ctx is cancelled. Poll errors
// go to the error channel (latest wins when nobody is reading) and polling
// continues. Both channels close on exit.
func (c *Client) WatchNotifications(ctx context.Context, opt WatchOptions) (<-chan Notification, <-chan error) {
	out := make(chan Notification)
	errCh := make(chan error, 1)

	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}

	go func() {
		defer close(out)
		defer close(errCh)

		seen := make(map[string]struct{})
		t := time.NewTicker(opt.Interval)
		defer t.Stop()

		for {
			ns, err := c.Notifications(ctx, true)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
			// The server lists newest first.
			for i := len(ns) - 1; i >= 0; i-- {
				n := ns[i]
				if _, ok := seen[n.ID]; ok {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
				seen[n.ID] = struct{}{}
				if opt.AutoAck {
					if err := c.Acknowledge(ctx, n.ID); err != nil {
						select {
						case errCh <- err:
						default:
						}
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	return out, errCh
}
