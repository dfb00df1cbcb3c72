package monitor

import (
	"context"
)

// Sink receives snapshots for publication or storage
type Sink interface {
	Publish(ctx context.Context, snap Snapshot) error
	Name() string
}

// Forward pumps snapshots into sink until ctx is done or the monitor stops.
// Publish errors are logged and do not stop forwarding.
func (m *Monitor) Forward(ctx context.Context, sink Sink) error {
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.logger.Info("forwarding readings", "sink", sink.Name())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sink.Publish(ctx, snap); err != nil {
				m.logger.Warn("sink publish failed",
					"sink", sink.Name(),
					"frame", snap.FrameID,
					"error", err,
				)
			}
		}
	}
}
