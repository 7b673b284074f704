package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"unicode"
	"unicode/utf8"

	"github.com/adred-codev/memq/internal/broker"
	"github.com/adred-codev/memq/internal/logging"
)

// quitLine is the literal line that closes a connection cleanly with no
// reply, checked before any decoding is attempted (SPEC_FULL §4.5).
const quitLine = "quit"

// Metrics is the subset of metrics.Registry the transport layer needs.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageDropped(reason string)
	AcceptError()
}

// Handler owns everything needed to run a connection's read/write loop
// against a shared Broker.
type Handler struct {
	Broker        *broker.Broker
	Events        *logging.Events
	Metrics       Metrics
	SendQueueSize int
}

// Serve runs conn's lifecycle to completion: accept its subscriber identity,
// start the write loop, run the read loop, then clean up. It returns once
// the connection is fully closed.
func (h *Handler) Serve(conn net.Conn, id string) {
	defer conn.Close()

	h.Metrics.ConnectionOpened()
	defer h.Metrics.ConnectionClosed()

	sub := broker.NewSubscriber(id, h.SendQueueSize, func() {
		h.Metrics.MessageDropped("queue_full")
	})

	h.Events.Connected(id, conn.RemoteAddr().String())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(conn, sub, stop)
	}()

	closeErr := h.readLoop(conn, sub)

	// Closing stop ends an idle write loop; closing conn unblocks a write
	// that might be in flight, and the write loop exits on the resulting
	// error.
	close(stop)
	conn.Close()
	<-done

	h.Broker.Cleanup(sub)
	h.Events.Disconnected(id, closeErr)
}

func (h *Handler) writeLoop(conn net.Conn, sub *broker.Subscriber, stop <-chan struct{}) {
	for {
		select {
		case payload := <-sub.Outbound():
			if _, err := conn.Write(payload); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// readLoop implements the connection state machine of SPEC_FULL §4.5. It
// returns nil on a graceful quit/EOF and the triggering error otherwise.
func (h *Handler) readLoop(conn net.Conn, sub *broker.Subscriber) error {
	reader := acquireReader(conn)
	defer releaseReader(reader)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if quit := h.handleLine(sub, line); quit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// handleLine processes one framed line. It returns true if the connection
// should close (the literal "quit" line was received).
func (h *Handler) handleLine(sub *broker.Subscriber, line []byte) bool {
	trimmed := bytes.TrimRightFunc(line, unicode.IsSpace)
	if len(trimmed) == 0 {
		return false
	}
	if string(trimmed) == quitLine {
		return true
	}

	if !utf8.Valid(trimmed) {
		sub.Enqueue(broker.EncodeFailure(broker.ReasonInvalidUTF8))
		return false
	}

	cmd, err := broker.ParseCommand(trimmed)
	if err != nil {
		var verr *broker.ValidationError
		reason := broker.ReasonMalformed
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		h.Events.MalformedCommand(sub.ID, reason)
		sub.Enqueue(broker.EncodeFailure(reason))
		return false
	}

	switch c := cmd.(type) {
	case *broker.SubscribeCmd:
		h.Broker.Subscribe(sub, c)
	case *broker.UnsubscribeCmd:
		if err := h.Broker.Unsubscribe(sub, c); err != nil {
			var verr *broker.ValidationError
			reason := broker.ReasonInternal
			if errors.As(err, &verr) {
				reason = verr.Reason
			}
			sub.Enqueue(broker.EncodeFailure(reason))
			return false
		}
		sub.Enqueue(broker.EncodeSuccess())
	case *broker.SendCmd:
		sub.Enqueue(h.Broker.Publish(c))
	}
	return false
}
