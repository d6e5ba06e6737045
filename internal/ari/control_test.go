package ari

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	path   string
	query  map[string]string
	user   string
	pass   string
}

func newControlServer(t *testing.T, status int, body any) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{query: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		for k := range r.URL.Query() {
			got.query[k] = r.URL.Query().Get(k)
		}
		got.user, got.pass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			json.NewEncoder(w).Encode(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestHangup(t *testing.T) {
	srv, got := newControlServer(t, http.StatusNoContent, nil)
	ctl := NewControl(srv.URL+"/ari/", "asterisk", "secret")

	require.NoError(t, ctl.Hangup(context.Background(), "C1", "busy"))
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Equal(t, "/ari/channels/C1", got.path)
	assert.Equal(t, "busy", got.query["reason"])
	assert.Equal(t, "asterisk", got.user)
	assert.Equal(t, "secret", got.pass)
}

func TestHangupWithoutReason(t *testing.T) {
	srv, got := newControlServer(t, http.StatusNoContent, nil)
	ctl := NewControl(srv.URL+"/ari", "u", "p")

	require.NoError(t, ctl.Hangup(context.Background(), "C1", ""))
	_, ok := got.query["reason"]
	assert.False(t, ok)
}

func TestHangupUnknownChannel(t *testing.T) {
	srv, _ := newControlServer(t, http.StatusNotFound, map[string]string{"message": "Channel not found"})
	ctl := NewControl(srv.URL+"/ari", "u", "p")

	err := ctl.Hangup(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Channel not found", apiErr.Message)
}

func TestStartRecording(t *testing.T) {
	srv, got := newControlServer(t, http.StatusCreated, LiveRecording{
		Name: "call-C1", Format: "wav", State: "queued", TargetURI: "channel:C1",
	})
	ctl := NewControl(srv.URL+"/ari", "u", "p")

	rec, err := ctl.StartRecording(context.Background(), "C1", RecordingOptions{
		Name:               "call-C1",
		IfExists:           "overwrite",
		MaxDurationSeconds: 3600,
		Beep:               true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/ari/channels/C1/record", got.path)
	assert.Equal(t, "call-C1", got.query["name"])
	assert.Equal(t, "wav", got.query["format"])
	assert.Equal(t, "overwrite", got.query["ifExists"])
	assert.Equal(t, "3600", got.query["maxDurationSeconds"])
	assert.Equal(t, "true", got.query["beep"])
	assert.Equal(t, "queued", rec.State)
	assert.Equal(t, "channel:C1", rec.TargetURI)
}

func TestStartRecordingRequiresName(t *testing.T) {
	ctl := NewControl("http://127.0.0.1:1/ari", "u", "p")
	_, err := ctl.StartRecording(context.Background(), "C1", RecordingOptions{})
	assert.Error(t, err)
}

func TestStartRecordingConflict(t *testing.T) {
	srv, _ := newControlServer(t, http.StatusConflict, map[string]string{"message": "Recording already in progress"})
	ctl := NewControl(srv.URL+"/ari", "u", "p")

	_, err := ctl.StartRecording(context.Background(), "C1", RecordingOptions{Name: "dup"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "409")
}

func TestStopRecording(t *testing.T) {
	srv, got := newControlServer(t, http.StatusNoContent, nil)
	ctl := NewControl(srv.URL+"/ari", "u", "p")

	require.NoError(t, ctl.StopRecording(context.Background(), "call-C1"))
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/ari/recordings/live/call-C1/stop", got.path)
}

func TestControlTransportError(t *testing.T) {
	srv, _ := newControlServer(t, http.StatusNoContent, nil)
	url := srv.URL
	srv.Close()

	ctl := NewControl(url+"/ari", "u", "p")
	err := ctl.StopRecording(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop recording x")
}
