package events

import (
	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/log"
)

// AuditLogger drains a subscription into the structured log, so every
// lifecycle event and seat change leaves a trace without any component
// having to log it twice.
type AuditLogger struct {
	broker *Broker
	sub    Subscriber
	logger zerolog.Logger
	doneCh chan struct{}
}

// NewAuditLogger creates an audit logger on the given broker.
func NewAuditLogger(broker *Broker) *AuditLogger {
	return &AuditLogger{
		broker: broker,
		logger: log.WithComponent("audit"),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to the broker and begins draining events.
func (a *AuditLogger) Start() {
	a.sub = a.broker.Subscribe()
	go a.run()
}

// Stop unsubscribes and waits for the drain loop to finish.
func (a *AuditLogger) Stop() {
	a.broker.Unsubscribe(a.sub)
	<-a.doneCh
}

func (a *AuditLogger) run() {
	defer close(a.doneCh)
	for event := range a.sub {
		line := a.logger.Info().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type))
		for k, v := range event.Metadata {
			line = line.Str(k, v)
		}
		line.Msg(event.Message)
	}
}
