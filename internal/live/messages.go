// Package live pushes session state and sink directives to connected
// presentation clients over websockets and takes their sink reports back.
package live

import (
	"encoding/json"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/mediasync"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

type MessageType string

const (
	// Server to client.
	MsgState     MessageType = "state"
	MsgDirective MessageType = "directive"
	MsgAssets    MessageType = "assets"
	MsgRenderJob MessageType = "render_job"
	MsgError     MessageType = "error"

	// Client to server.
	MsgSinkReport MessageType = "sink_report"
	MsgSinkError  MessageType = "sink_error"
	MsgPing       MessageType = "ping"
)

// Message is the envelope for everything on the wire.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage encodes data into an envelope.
func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

type DirectiveOp string

const (
	OpLoad   DirectiveOp = "load"
	OpUnload DirectiveOp = "unload"
	OpSeek   DirectiveOp = "seek"
	OpPlay   DirectiveOp = "play"
	OpPause  DirectiveOp = "pause"
	OpRate   DirectiveOp = "rate"
	OpShow   DirectiveOp = "show"
	OpHide   DirectiveOp = "hide"
)

// Directive tells the client what a sink should do.
type Directive struct {
	Track   timeline.TrackKind `json:"track"`
	Op      DirectiveOp        `json:"op"`
	Source  string             `json:"source,omitempty"`
	URL     string             `json:"url,omitempty"`
	Time    float64            `json:"time,omitempty"`
	Rate    float64            `json:"rate,omitempty"`
	Overlay *mediasync.Overlay `json:"overlay,omitempty"`
}

// SinkReport is the client's view of one of its media elements.
type SinkReport struct {
	Track        timeline.TrackKind   `json:"track"`
	Position     float64              `json:"position"`
	LoadedSource string               `json:"loaded_source"`
	ReadyState   mediasync.ReadyState `json:"ready_state"`
	Paused       bool                 `json:"paused"`
}

// SinkError is a media element failure reported by the client.
type SinkError struct {
	Track   timeline.TrackKind `json:"track"`
	Source  string             `json:"source,omitempty"`
	Message string             `json:"message"`
}
