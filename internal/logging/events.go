package logging

import "go.uber.org/zap"

// Events is a leveled, structured logger for auditable broker occurrences,
// adapted from the reference audit logger's event/level split into zap
// fields instead of hand-rolled JSON: the concern (per-connection,
// structured, leveled events) is the same, the mechanism is the base
// logger's own encoder.
type Events struct {
	base *zap.Logger
}

// NewEvents wraps base for domain event logging.
func NewEvents(base *zap.Logger) *Events {
	return &Events{base: base}
}

// Connection returns a child logger pre-tagged with a connection id, for
// call sites that log several events about the same subscriber.
func (e *Events) Connection(id string) *zap.Logger {
	return e.base.With(zap.String("connection_id", id))
}

// Connected logs a new accepted connection.
func (e *Events) Connected(id, remoteAddr string) {
	e.base.Info("subscriber connected", zap.String("connection_id", id), zap.String("remote_addr", remoteAddr))
}

// Disconnected logs connection teardown.
func (e *Events) Disconnected(id string, reason error) {
	if reason != nil {
		e.base.Info("subscriber disconnected", zap.String("connection_id", id), zap.Error(reason))
		return
	}
	e.base.Info("subscriber disconnected", zap.String("connection_id", id))
}

// SlowConsumerDropped logs a delivery dropped because a subscriber's
// outbound queue was full.
func (e *Events) SlowConsumerDropped(connectionID, topic string) {
	e.base.Warn("slow consumer dropped message",
		zap.String("connection_id", connectionID),
		zap.String("topic", topic),
	)
}

// MalformedCommand logs a rejected command.
func (e *Events) MalformedCommand(connectionID, reason string) {
	e.base.Debug("malformed command",
		zap.String("connection_id", connectionID),
		zap.String("reason", reason),
	)
}

// ConnectionRejected logs an admission-control rejection.
func (e *Events) ConnectionRejected(remoteAddr, reason string) {
	e.base.Warn("connection rejected",
		zap.String("remote_addr", remoteAddr),
		zap.String("reason", reason),
	)
}
