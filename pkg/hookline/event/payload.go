// Package event defines the payloads that flow through the notification
// pipeline.
//
// A Payload is an open record: a small set of required base fields
// (timestamp, event type, optional session/user attribution) plus an
// extension map for arbitrary caller-supplied fields. Payloads are
// immutable once created - treat the extension map as read-only.
package event

import (
	"encoding/json"
	"time"
)

// Event types consumed and produced by the completion aggregator.
// The dispatcher itself treats event types as opaque subscription keys;
// these constants only name the fixed vocabulary the aggregator knows.
const (
	TypeMessagePartUpdated = "message.part.updated"
	TypeMessageUpdated     = "message.updated"
	TypeSessionIdle        = "session.idle"
	TypeAgentCompleted     = "agent.completed"
)

// Payload is one event as seen by destinations.
// The base fields are stamped at dispatch time; Fields carries
// everything else the caller supplied.
type Payload struct {
	Timestamp time.Time
	Type      string
	SessionID string
	UserID    string
	Fields    map[string]any
}

// Option configures payload creation.
type Option func(*Payload)

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(p *Payload) {
		p.Timestamp = t
	}
}

// New builds a Payload for eventType from caller-supplied fields.
// The "sessionId" and "userId" keys, when present as strings, are
// lifted into the base fields; everything else lands in Fields.
// The input map is copied, never retained.
func New(eventType string, fields map[string]any, opts ...Option) Payload {
	p := Payload{
		Timestamp: time.Now(),
		Type:      eventType,
	}

	for _, opt := range opts {
		opt(&p)
	}

	if len(fields) > 0 {
		p.Fields = make(map[string]any, len(fields))
		for k, v := range fields {
			switch k {
			case "sessionId":
				if s, ok := v.(string); ok {
					p.SessionID = s
					continue
				}
			case "userId":
				if s, ok := v.(string); ok {
					p.UserID = s
					continue
				}
			}
			p.Fields[k] = v
		}
	}

	return p
}

// Field returns the extension field for key, or nil if absent.
func (p Payload) Field(key string) any {
	if p.Fields == nil {
		return nil
	}
	return p.Fields[key]
}

// MarshalJSON flattens the payload into a single JSON object:
// base fields and extension fields side by side. Base fields win
// on key collision.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+4)
	for k, v := range p.Fields {
		out[k] = v
	}
	out["timestamp"] = p.Timestamp.Format(time.RFC3339Nano)
	out["eventType"] = p.Type
	if p.SessionID != "" {
		out["sessionId"] = p.SessionID
	}
	if p.UserID != "" {
		out["userId"] = p.UserID
	}
	return json.Marshal(out)
}

// Usage is a token/cost snapshot attached to an assistant message.
type Usage struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// MessagePart is the "message-part updated" inbound shape.
// Only text-typed parts contribute to accumulation.
type MessagePart struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	PartID    string `json:"partId"`
	PartType  string `json:"partType"`
	Text      string `json:"text"`
}

// MessageUpdate is the "message updated" inbound shape.
type MessageUpdate struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Usage     *Usage `json:"usage,omitempty"`
}

// SessionIdle is the "session idle" inbound shape.
type SessionIdle struct {
	SessionID string `json:"sessionId"`
}

// Completion is the synthetic payload emitted once per accumulation
// cycle when a session goes idle.
type Completion struct {
	SessionID      string    `json:"sessionId"`
	SessionTitle   string    `json:"sessionTitle"`
	MessageContent string    `json:"messageContent"`
	MessageID      string    `json:"messageId"`
	Tokens         int       `json:"tokens"`
	Cost           float64   `json:"cost"`
	Timestamp      time.Time `json:"timestamp"`
}

// DispatchFields renders the completion as dispatcher input fields.
func (c Completion) DispatchFields() map[string]any {
	return map[string]any{
		"sessionId":      c.SessionID,
		"sessionTitle":   c.SessionTitle,
		"messageContent": c.MessageContent,
		"messageId":      c.MessageID,
		"tokens":         c.Tokens,
		"cost":           c.Cost,
	}
}
