package ari

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotFound matches an APIError for a channel or recording that does not
// exist.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the control API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Control issues channel operations against the REST side of the
// signaling server.
type Control struct {
	client *resty.Client
}

// NewControl creates a control client for baseURL (for example
// http://pbx:8088/ari).
func NewControl(baseURL, username, password string) *Control {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetBasicAuth(username, password).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	return &Control{client: client}
}

// Hangup hangs up a channel. reason is optional (normal, busy, congestion,
// no_answer, ...).
func (c *Control) Hangup(ctx context.Context, channelID, reason string) error {
	req := c.client.R().
		SetContext(ctx).
		SetPathParam("channelId", channelID).
		SetError(&apiMessage{})
	if reason != "" {
		req.SetQueryParam("reason", reason)
	}
	resp, err := req.Delete("/channels/{channelId}")
	return check("hangup "+channelID, resp, err)
}

// RecordingOptions configures StartRecording.
type RecordingOptions struct {
	Name   string
	Format string // wav when empty
	// IfExists is fail, overwrite or append.
	IfExists           string
	MaxDurationSeconds int
	Beep               bool
}

// LiveRecording is the server's view of a recording in progress.
type LiveRecording struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	State     string `json:"state"`
	TargetURI string `json:"target_uri"`
}

// StartRecording starts a named recording on a channel.
func (c *Control) StartRecording(ctx context.Context, channelID string, opts RecordingOptions) (*LiveRecording, error) {
	if opts.Name == "" {
		return nil, errors.New("start recording: name is required")
	}
	format := opts.Format
	if format == "" {
		format = "wav"
	}

	req := c.client.R().
		SetContext(ctx).
		SetPathParam("channelId", channelID).
		SetQueryParam("name", opts.Name).
		SetQueryParam("format", format).
		SetResult(&LiveRecording{}).
		SetError(&apiMessage{})
	if opts.IfExists != "" {
		req.SetQueryParam("ifExists", opts.IfExists)
	}
	if opts.MaxDurationSeconds > 0 {
		req.SetQueryParam("maxDurationSeconds", fmt.Sprintf("%d", opts.MaxDurationSeconds))
	}
	if opts.Beep {
		req.SetQueryParam("beep", "true")
	}

	resp, err := req.Post("/channels/{channelId}/record")
	if err := check("start recording "+opts.Name, resp, err); err != nil {
		return nil, err
	}
	return resp.Result().(*LiveRecording), nil
}

// StopRecording stops and stores a live recording.
func (c *Control) StopRecording(ctx context.Context, name string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("recordingName", name).
		SetError(&apiMessage{}).
		Post("/recordings/live/{recordingName}/stop")
	return check("stop recording "+name, resp, err)
}

type apiMessage struct {
	Message string `json:"message"`
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode()}
		if msg, ok := resp.Error().(*apiMessage); ok && msg != nil {
			apiErr.Message = msg.Message
		}
		return apiErr
	}
	return nil
}
