package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix namespaces mirrored subjects.
const DefaultSubjectPrefix = "futuresfunk"

// Mirror republishes selected bus events to NATS so external consumers
// (dashboards, downstream strategies) can observe decisions, fills and
// kill-switch transitions without coupling to the process.
type Mirror struct {
	nc     *nats.Conn
	bus    *Bus
	prefix string

	sub    *Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMirror connects to NATS and prepares a mirror over the given bus.
// An empty prefix defaults to "futuresfunk".
func NewMirror(natsURL, prefix string, bus *Bus) (*Mirror, error) {
	nc, err := nats.Connect(
		natsURL,
		nats.Name("futuresfunk-events"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	log.Info().
		Str("nats_url", natsURL).
		Str("prefix", prefix).
		Msg("Event mirror connected")

	return &Mirror{
		nc:     nc,
		bus:    bus,
		prefix: prefix,
	}, nil
}

// Start subscribes to the mirrored kinds and pumps them to NATS until the
// context is cancelled or Close is called.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.sub = m.bus.Subscribe(KindDecisionMade, KindOrderFilled, KindKillSwitch)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-m.sub.C:
				if !ok {
					return
				}
				m.publish(ev)
			}
		}
	}()
}

func (m *Mirror) publish(ev Event) {
	subject := m.subjectFor(ev.EventKind())
	if subject == "" {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.EventKind())).Msg("Failed to marshal event for NATS")
		return
	}

	if err := m.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to mirror event to NATS")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("kind", string(ev.EventKind())).
		Msg("Mirrored event to NATS")
}

func (m *Mirror) subjectFor(kind Kind) string {
	switch kind {
	case KindDecisionMade:
		return m.prefix + ".decisions"
	case KindOrderFilled:
		return m.prefix + ".fills"
	case KindKillSwitch:
		return m.prefix + ".risk"
	default:
		return ""
	}
}

// Stats returns connection statistics for monitoring.
func (m *Mirror) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if m.nc != nil {
		stats["connected"] = m.nc.IsConnected()
		stats["status"] = m.nc.Status().String()
		stats["out_msgs"] = m.nc.Stats().OutMsgs
		stats["reconnects"] = m.nc.Stats().Reconnects
	}
	return stats
}

// Close stops the pump, flushes and closes the NATS connection.
func (m *Mirror) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.wg.Wait()

	if m.nc != nil {
		if err := m.nc.Flush(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush NATS connection")
		}
		m.nc.Close()
		log.Info().Msg("Event mirror closed")
	}
}
