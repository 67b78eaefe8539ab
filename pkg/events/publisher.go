// Package events mirrors safety events onto a NATS bus so external consumers
// (dashboards, paging bridges) can observe the monitor without touching its
// internals. The mirror is best effort: a publish failure is logged, never
// allowed to affect monitoring.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vol-libre/guardian-angel/pkg/flight"
)

// SubjectPrefix is the root of all published subjects, e.g.
// guardian.events.alert.
const SubjectPrefix = "guardian.events"

// Publisher mirrors flight events to an external bus.
type Publisher interface {
	Publish(ev flight.Event)
	Close()
}

// envelope is the wire form of a mirrored event.
type envelope struct {
	Kind    string    `json:"kind"`
	Key     string    `json:"key"`
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	At      time.Time `json:"at"`
	Emitted time.Time `json:"emitted"`
}

// NATS publishes events to a NATS server.
type NATS struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NewNATS connects to the given NATS URL and returns a publisher.
func NewNATS(url string, logger zerolog.Logger) (*NATS, error) {
	log := logger.With().Str("component", "events").Logger()

	nc, err := nats.Connect(url,
		nats.Name("guardian-angel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	log.Info().Str("url", url).Msg("Connected to NATS")
	return &NATS{nc: nc, log: log}, nil
}

// Publish mirrors one event. Failures are logged and dropped.
func (p *NATS) Publish(ev flight.Event) {
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, ev.Kind)
	payload, err := json.Marshal(envelope{
		Kind:    string(ev.Kind),
		Key:     ev.Key,
		Name:    ev.Name,
		State:   string(ev.State),
		Lat:     ev.Lat,
		Lon:     ev.Lon,
		At:      ev.At,
		Emitted: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("Encoding event failed")
		return
	}

	if err := p.nc.Publish(subject, payload); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("Publishing event failed")
	}
}

// Close drains and closes the connection.
func (p *NATS) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("Draining NATS connection failed")
	}
}

// Noop is the publisher used when no bus is configured.
type Noop struct{}

func (Noop) Publish(flight.Event) {}
func (Noop) Close()               {}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ev flight.Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
