package store

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const listenerPingInterval = 90 * time.Second

// ListenRefresh calls refresh every time channel is notified, and once after
// every reconnect since notifications sent while disconnected are lost. It
// blocks until ctx is done.
func ListenRefresh(ctx context.Context, databaseURL, channel string, log zerolog.Logger, refresh func(context.Context)) error {
	log = log.With().Str("channel", channel).Logger()

	listener := pq.NewListener(databaseURL, time.Second, time.Minute,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("refresh listener event")
			}
		})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(channel); err != nil {
		return Error.New("failed to listen on %s: %w", channel, err)
	}
	log.Info().Msg("listening for refresh notifications")

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// a nil notification means the connection was re-established
			if n != nil {
				log.Debug().Str("payload", n.Extra).Msg("refresh notification")
			}
			refresh(ctx)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("refresh listener ping failed")
				}
			}()
		}
	}
}
