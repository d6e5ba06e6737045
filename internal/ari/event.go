package ari

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the discriminator carried in every event's "type" field,
// after normalization.
type EventType string

const (
	ChannelEntered      EventType = "ChannelEntered"
	ChannelStateChanged EventType = "ChannelStateChanged"
	DialStarted         EventType = "DialStarted"
	DialEnded           EventType = "DialEnded"
	ChannelDestroyed    EventType = "ChannelDestroyed"
	ChannelLeft         EventType = "ChannelLeft"
)

// KnownTypes lists every event type the engine routes.
var KnownTypes = []EventType{
	ChannelEntered,
	ChannelStateChanged,
	DialStarted,
	DialEnded,
	ChannelDestroyed,
	ChannelLeft,
}

var (
	// ErrMalformed is returned by Decode for frames that are not a JSON
	// object with a type field.
	ErrMalformed = errors.New("malformed event")
	// ErrMissingField is returned by Validate when a field the event type
	// requires is absent.
	ErrMissingField = errors.New("missing required field")
)

// CallerID is a caller or connected-line identity.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Channel is the channel snapshot embedded in events.
type Channel struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Caller    CallerID `json:"caller"`
	Connected CallerID `json:"connected"`
}

// Event is a decoded event from the feed.
type Event struct {
	Type EventType
	// RawType is the type as received, before normalization.
	RawType     string
	Application string
	Timestamp   time.Time

	Channel *Channel
	// Caller and Peer are set on dial events.
	Caller     *Channel
	Peer       *Channel
	DialStatus string

	// Cause and CauseText are set on ChannelDestroyed.
	Cause     int
	CauseText string
}

type wireEvent struct {
	Type        string   `json:"type"`
	Application string   `json:"application"`
	Timestamp   string   `json:"timestamp"`
	Channel     *Channel `json:"channel"`
	Caller      *Channel `json:"caller"`
	Peer        *Channel `json:"peer"`
	DialStatus  string   `json:"dialstatus"`
	Cause       int      `json:"cause"`
	CauseText   string   `json:"cause_txt"`
}

// Decode parses one frame from the event feed.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("%w: no type", ErrMalformed)
	}

	return Event{
		Type:        normalizeType(w.Type, w.DialStatus),
		RawType:     w.Type,
		Application: w.Application,
		Timestamp:   parseTimestamp(w.Timestamp),
		Channel:     w.Channel,
		Caller:      w.Caller,
		Peer:        w.Peer,
		DialStatus:  w.DialStatus,
		Cause:       w.Cause,
		CauseText:   w.CauseText,
	}, nil
}

// normalizeType maps native Asterisk REST Interface event names onto the
// engine's event types. Unrecognized names pass through unchanged.
func normalizeType(t, dialStatus string) EventType {
	switch t {
	case "StasisStart":
		return ChannelEntered
	case "StasisEnd":
		return ChannelLeft
	case "ChannelStateChange":
		return ChannelStateChanged
	case "Dial":
		if dialStatus == "" {
			return DialStarted
		}
		return DialEnded
	}
	return EventType(t)
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Known reports whether the event type is one the engine routes.
func (e Event) Known() bool {
	for _, t := range KnownTypes {
		if e.Type == t {
			return true
		}
	}
	return false
}

// ChannelID returns the id of the channel the event is about: the channel
// for channel events, the caller for dial events.
func (e Event) ChannelID() string {
	switch e.Type {
	case DialStarted, DialEnded:
		if e.Caller != nil {
			return e.Caller.ID
		}
		return ""
	}
	if e.Channel != nil {
		return e.Channel.ID
	}
	return ""
}

// Validate checks the fields required by the event's type.
func (e Event) Validate() error {
	switch e.Type {
	case ChannelEntered, ChannelDestroyed, ChannelLeft:
		if e.Channel == nil || e.Channel.ID == "" {
			return fmt.Errorf("%w: %s channel.id", ErrMissingField, e.Type)
		}
	case ChannelStateChanged:
		if e.Channel == nil || e.Channel.ID == "" {
			return fmt.Errorf("%w: %s channel.id", ErrMissingField, e.Type)
		}
		if e.Channel.State == "" {
			return fmt.Errorf("%w: %s channel.state", ErrMissingField, e.Type)
		}
	case DialStarted:
		if e.Caller == nil || e.Caller.ID == "" {
			return fmt.Errorf("%w: %s caller.id", ErrMissingField, e.Type)
		}
		if e.Peer == nil || e.Peer.ID == "" {
			return fmt.Errorf("%w: %s peer.id", ErrMissingField, e.Type)
		}
	case DialEnded:
		if e.Caller == nil || e.Caller.ID == "" {
			return fmt.Errorf("%w: %s caller.id", ErrMissingField, e.Type)
		}
		if e.DialStatus == "" {
			return fmt.Errorf("%w: %s dialstatus", ErrMissingField, e.Type)
		}
	}
	return nil
}
