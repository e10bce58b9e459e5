// Package notify delivers finished scan reports to external channels. Every
// channel is isolated: a delivery failure is reported on its ChannelResult
// and never affects sibling channels or the pipeline's exit code.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

// DefaultSendTimeout bounds a single channel delivery when the channel's own
// configuration does not.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher fans a report out to all configured channels concurrently.
type Dispatcher struct {
	channels []schemas.Channel
	timeout  time.Duration
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(channels []schemas.Channel, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		log:      logger.Named("notify"),
	}
}

// Dispatch delivers the report to every channel and collects per-channel
// outcomes in channel order. It always returns one result per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, rep *schemas.AggregateReport) []schemas.ChannelResult {
	results := make([]schemas.ChannelResult, len(d.channels))

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := ch.Send(sendCtx, rep)
			results[i] = schemas.ChannelResult{Channel: ch.Name(), Err: err}
			if err != nil {
				d.log.Warn("Channel delivery failed",
					zap.String("channel", ch.Name()),
					zap.Error(err))
				return
			}
			d.log.Info("Notification delivered", zap.String("channel", ch.Name()))
		}()
	}
	wg.Wait()

	return results
}
