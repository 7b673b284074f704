package broker

import (
	"bytes"
	"encoding/json"
)

// SubscribeCmd is a validated subscribe command.
type SubscribeCmd struct {
	Topic    string
	LastSeen int64
	Cache    bool
}

// UnsubscribeCmd is a validated unsubscribe command.
type UnsubscribeCmd struct {
	Topic string
}

// SendCmd is a validated send command.
type SendCmd struct {
	Topic    string
	Msg      string
	Delivery string
	Cache    bool
}

// ValidationError reports why a line failed to become a command, using the
// exact reason strings the wire protocol requires (SPEC_FULL §4.1/§4.2).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func malformed() error { return &ValidationError{Reason: ReasonMalformed} }

// ParseCommand decodes and validates a single protocol line, returning one
// of *SubscribeCmd, *UnsubscribeCmd, or *SendCmd. It never returns a parse
// error for ill-typed-but-syntactically-valid-JSON input; those are reported
// as ValidationError{ReasonMalformed} per SPEC_FULL §4.2.
func ParseCommand(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Reason: ReasonParseJSON}
	}
	// Reject trailing garbage after the first JSON value on the line.
	if dec.More() {
		return nil, &ValidationError{Reason: ReasonParseJSON}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, malformed()
	}

	command, ok := obj["command"].(string)
	if !ok {
		return nil, malformed()
	}

	switch command {
	case "subscribe":
		return parseSubscribe(obj)
	case "unsubscribe":
		return parseUnsubscribe(obj)
	case "send":
		return parseSend(obj)
	default:
		return nil, malformed()
	}
}

var subscribeFields = map[string]bool{"command": true, "topic": true, "last_seen": true, "cache": true}
var unsubscribeFields = map[string]bool{"command": true, "topic": true}
var sendFields = map[string]bool{"command": true, "topic": true, "msg": true, "delivery": true, "cache": true}

func extraKeys(obj map[string]any, allowed map[string]bool) bool {
	for k := range obj {
		if !allowed[k] {
			return true
		}
	}
	return false
}

func parseSubscribe(obj map[string]any) (any, error) {
	if extraKeys(obj, subscribeFields) {
		return nil, malformed()
	}
	topic, ok := obj["topic"].(string)
	if !ok {
		return nil, malformed()
	}
	cmd := SubscribeCmd{Topic: topic, LastSeen: -1, Cache: true}
	if raw, present := obj["last_seen"]; present {
		n, ok := asInteger(raw)
		if !ok {
			return nil, malformed()
		}
		cmd.LastSeen = n
	}
	if raw, present := obj["cache"]; present {
		b, ok := raw.(bool)
		if !ok {
			return nil, malformed()
		}
		cmd.Cache = b
	}
	return &cmd, nil
}

func parseUnsubscribe(obj map[string]any) (any, error) {
	if extraKeys(obj, unsubscribeFields) {
		return nil, malformed()
	}
	topic, ok := obj["topic"].(string)
	if !ok {
		return nil, malformed()
	}
	return &UnsubscribeCmd{Topic: topic}, nil
}

func parseSend(obj map[string]any) (any, error) {
	if extraKeys(obj, sendFields) {
		return nil, malformed()
	}
	topic, ok := obj["topic"].(string)
	if !ok {
		return nil, malformed()
	}
	msg, ok := obj["msg"].(string)
	if !ok {
		return nil, malformed()
	}
	delivery, ok := obj["delivery"].(string)
	if !ok || (delivery != DeliveryAll && delivery != DeliveryOne) {
		return nil, malformed()
	}
	cmd := SendCmd{Topic: topic, Msg: msg, Delivery: delivery, Cache: true}
	if raw, present := obj["cache"]; present {
		b, ok := raw.(bool)
		if !ok {
			return nil, malformed()
		}
		cmd.Cache = b
	}
	return &cmd, nil
}

// asInteger accepts a json.Number with no fractional part. bool values are
// never accepted here because Go's decoder already types JSON true/false as
// bool, never as a number, so no explicit bool-vs-int guard is needed.
func asInteger(v any) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// Delivery reply encoding.

// EncodeSuccess encodes {"success": true}.
func EncodeSuccess() []byte {
	return []byte(`{"success":true}` + "\r\n")
}

// EncodeFailure encodes {"success": false, "reason": reason}.
func EncodeFailure(reason string) []byte {
	b, _ := json.Marshal(map[string]any{"success": false, "reason": reason})
	return append(b, '\r', '\n')
}

// EncodeDelivery encodes the send command echoed back with its stamped
// index, per SPEC_FULL §6.
func EncodeDelivery(cmd SendCmd, index int64) []byte {
	b, _ := json.Marshal(struct {
		Command  string `json:"command"`
		Topic    string `json:"topic"`
		Msg      string `json:"msg"`
		Delivery string `json:"delivery"`
		Index    int64  `json:"index"`
	}{"send", cmd.Topic, cmd.Msg, cmd.Delivery, index})
	return append(b, '\r', '\n')
}

func encodeCached(cm cachedMessage) []byte {
	return EncodeDelivery(SendCmd{Topic: cm.Topic, Msg: cm.Msg, Delivery: cm.Delivery}, cm.Index)
}
