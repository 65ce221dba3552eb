// Package protocol defines the JSON envelopes exchanged over a live session
// connection.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"coachrelay/pkg/types"
)

// Outbound envelope tags
const (
	TagProcessing       = "p"
	TagResponse         = "r"
	TagError            = "e"
	TagPeerConnected    = "peer_connected"
	TagPeerDisconnected = "peer_disconnected"
)

// Inbound event types
const (
	EventAudioChunk = "audio_chunk"
	EventQuestion   = "question"
)

// FUNCTIONAL DISCOVERY: Mobile screens only show a short question and feedback line
const (
	MaxQuestionRunes = 60
	MaxFeedbackRunes = 80
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedEvent   = errors.New("malformed event")
)

// Processing acknowledges that a question is being resolved.
type Processing struct {
	T string `json:"t"`
}

// Response carries a resolved answer to the listener.
type Response struct {
	T        string  `json:"t"`
	Question string  `json:"q"`
	Answer   string  `json:"a"`
	Score    float64 `json:"s"`
	Feedback string  `json:"f"`
	Source   string  `json:"c"`
}

// PeerPresence reports that the opposite role attached or detached.
type PeerPresence struct {
	T    string     `json:"t"`
	Role types.Role `json:"role"`
}

// ErrorEnvelope reports a rejected inbound event back to its sender.
type ErrorEnvelope struct {
	T     string `json:"t"`
	Error string `json:"error"`
}

func NewProcessing() Processing {
	return Processing{T: TagProcessing}
}

// NewResponse builds an r envelope, truncating question and feedback for display.
func NewResponse(question string, res types.Resolution) Response {
	return Response{
		T:        TagResponse,
		Question: truncate(question, MaxQuestionRunes),
		Answer:   res.Response,
		Score:    res.Score,
		Feedback: truncate(res.Feedback, MaxFeedbackRunes),
		Source:   string(res.Source),
	}
}

func NewPeerConnected(peer types.Role) PeerPresence {
	return PeerPresence{T: TagPeerConnected, Role: peer}
}

func NewPeerDisconnected(peer types.Role) PeerPresence {
	return PeerPresence{T: TagPeerDisconnected, Role: peer}
}

func NewError(err error) ErrorEnvelope {
	return ErrorEnvelope{T: TagError, Error: err.Error()}
}

// Inbound is a decoded client frame. Exactly one of Event or Raw is set.
type Inbound struct {
	Event *Event
	Raw   []byte
}

// Event is a typed client event.
type Event struct {
	Type  string
	Audio []byte
	Text  string
}

type wireEvent struct {
	Type *string `json:"type"`
	Data string  `json:"data"`
	Text string  `json:"text"`
}

// Decode classifies an inbound frame. A JSON object with a "type" field is an
// event and must be one of the known event types; every other payload is raw
// text to be relayed verbatim.
func Decode(payload []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Inbound{Raw: payload}, nil
	}

	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil || w.Type == nil {
		return Inbound{Raw: payload}, nil
	}

	switch *w.Type {
	case EventAudioChunk:
		if w.Data == "" {
			return Inbound{}, fmt.Errorf("%w: audio_chunk without data", ErrMalformedEvent)
		}
		audio, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: audio_chunk data is not base64: %v", ErrMalformedEvent, err)
		}
		return Inbound{Event: &Event{Type: EventAudioChunk, Audio: audio}}, nil
	case EventQuestion:
		text := strings.TrimSpace(w.Text)
		if text == "" {
			return Inbound{}, fmt.Errorf("%w: question without text", ErrMalformedEvent)
		}
		return Inbound{Event: &Event{Type: EventQuestion, Text: text}}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownEventType, *w.Type)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
