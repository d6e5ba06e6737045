package correlator

import (
	"time"

	"github.com/sweeney/ari-calllog/internal/calllog"
)

// CallState represents the lifecycle state of a tracked call.
type CallState string

const (
	StateRinging   CallState = "ringing"
	StateAnswered  CallState = "answered"
	StateBusy      CallState = "busy"
	StateNoAnswer  CallState = "no_answer"
	StateCancelled CallState = "cancelled"
	StateFailed    CallState = "failed"
	StateEnded     CallState = "ended"
)

// TrackedCall is the in-progress state of one channel.
type TrackedCall struct {
	ChannelID string
	// PeerChannelID is the peer most recently dialed or reporting a dial
	// result.
	PeerChannelID string
	// peers maps every dialed peer channel to its resolved endpoint.
	peers map[string]string

	OriginatingEndpoint string
	TerminatingEndpoint string

	State      CallState
	StartTime  time.Time
	AnswerTime time.Time
	EndTime    time.Time

	HangupCauseCode int
	HangupCauseText string

	// FinalStatus is set from a dial result and overrides any status
	// derived from the hangup cause.
	FinalStatus calllog.Status

	// LegOf is the originating channel when this channel is the dialed
	// peer of another tracked call. Legs never produce records.
	LegOf string

	finalized bool
}

// Status returns the disposition the call would be recorded with now.
func (c *TrackedCall) Status() calllog.Status {
	if c.FinalStatus != "" {
		return c.FinalStatus
	}
	if c.State == StateEnded {
		return CauseCodeToStatus(c.HangupCauseCode)
	}
	return statusFromState(c.State)
}

// clamp keeps timestamps from preceding the call's start.
func (c *TrackedCall) clamp(t time.Time) time.Time {
	if t.Before(c.StartTime) {
		return c.StartTime
	}
	return t
}

func (c *TrackedCall) record() calllog.Record {
	return calllog.NewRecord(calllog.Record{
		OriginatingEndpoint:   c.OriginatingEndpoint,
		TerminatingEndpoint:   c.TerminatingEndpoint,
		StartTime:             c.StartTime,
		AnswerTime:            c.AnswerTime,
		EndTime:               c.EndTime,
		Status:                c.Status(),
		HangupCauseCode:       c.HangupCauseCode,
		HangupCauseText:       c.HangupCauseText,
		ExternalCorrelationID: c.ChannelID,
	})
}

// CauseCodeToStatus maps a Q.850 hangup cause to a call status. Only the
// causes with an unambiguous disposition are mapped; everything else is a
// failure.
func CauseCodeToStatus(code int) calllog.Status {
	switch code {
	case 16:
		return calllog.StatusAnswered
	case 17:
		return calllog.StatusBusy
	case 19:
		return calllog.StatusNoAnswer
	case 21:
		return calllog.StatusCancelled
	default:
		return calllog.StatusFailed
	}
}

// DialStatusToStatus maps a final dial result to a call status. ok is false
// for intermediate results such as RINGING or PROGRESS.
func DialStatusToStatus(dialStatus string) (status calllog.Status, ok bool) {
	switch dialStatus {
	case "ANSWER":
		return calllog.StatusAnswered, true
	case "BUSY":
		return calllog.StatusBusy, true
	case "NOANSWER":
		return calllog.StatusNoAnswer, true
	case "CANCEL":
		return calllog.StatusCancelled, true
	case "CONGESTION", "CHANUNAVAIL":
		return calllog.StatusFailed, true
	}
	return "", false
}

func statusFromState(s CallState) calllog.Status {
	switch s {
	case StateAnswered:
		return calllog.StatusAnswered
	case StateBusy:
		return calllog.StatusBusy
	case StateRinging, StateNoAnswer:
		return calllog.StatusNoAnswer
	case StateCancelled:
		return calllog.StatusCancelled
	default:
		return calllog.StatusFailed
	}
}

// HangupCause maps Asterisk hangup cause codes to names and descriptions.
var HangupCause = map[int]struct {
	Name        string
	Description string
}{
	0:   {"unknown", "Unknown or no cause provided"},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {"user_busy", "The destination was busy"},
	18:  {"no_answer", "The destination did not answer"},
	19:  {"no_answer", "The destination did not answer within the timeout"},
	21:  {"call_rejected", "The call was rejected by the destination"},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {"congestion", "All circuits are busy or no circuit is available"},
	127: {"interworking", "An interworking error occurred"},
}

// causeText returns text when set, otherwise the name of a known code.
func causeText(code int, text string) string {
	if text != "" {
		return text
	}
	if info, ok := HangupCause[code]; ok {
		return info.Name
	}
	return ""
}
