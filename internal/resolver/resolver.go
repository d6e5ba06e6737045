// Package resolver maps channel descriptors to stable endpoint ids.
package resolver

import (
	"strings"

	"github.com/sweeney/ari-calllog/internal/ari"
)

// Descriptor is the part of a channel snapshot used to identify the
// endpoint behind it.
type Descriptor struct {
	CallerNumber    string
	ChannelName     string
	ConnectedNumber string
}

// FromChannel extracts a Descriptor from an event channel snapshot.
func FromChannel(ch *ari.Channel) Descriptor {
	if ch == nil {
		return Descriptor{}
	}
	return Descriptor{
		CallerNumber:    ch.Caller.Number,
		ChannelName:     ch.Name,
		ConnectedNumber: ch.Connected.Number,
	}
}

// Resolve returns the endpoint id for d, trying the caller-ID number (when
// numeric), then the channel name, then the connected-line number (when
// numeric). ok is false when nothing matches.
func Resolve(d Descriptor) (endpoint string, ok bool) {
	if c := candidates(d); len(c) > 0 {
		return c[0], true
	}
	return "", false
}

func candidates(d Descriptor) []string {
	var out []string
	if isNumeric(d.CallerNumber) {
		out = append(out, d.CallerNumber)
	}
	if ep, ok := ParseChannelName(d.ChannelName); ok {
		out = append(out, ep)
	}
	if isNumeric(d.ConnectedNumber) {
		out = append(out, d.ConnectedNumber)
	}
	return out
}

// ParseChannelName extracts the endpoint from a channel name of the form
// <protocol>/<endpoint>-<suffix>, e.g. PJSIP/1001-0000002a. Any @context
// part of the endpoint is dropped (Local/1001@from-internal-00000001;1).
func ParseChannelName(name string) (string, bool) {
	slash := strings.IndexByte(name, '/')
	if slash <= 0 {
		return "", false
	}
	rest := name[slash+1:]
	dash := strings.LastIndexByte(rest, '-')
	if dash <= 0 || dash == len(rest)-1 {
		return "", false
	}
	ep := rest[:dash]
	if at := strings.IndexByte(ep, '@'); at >= 0 {
		ep = ep[:at]
	}
	if ep == "" {
		return "", false
	}
	return ep, true
}

// isNumeric accepts digit strings with an optional leading '+'.
func isNumeric(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Directory confirms whether an endpoint is known and registered.
type Directory interface {
	Exists(endpoint string) bool
}

// Resolver resolves descriptors, skipping candidates the directory does not
// know. A Resolver with a nil directory behaves like Resolve.
type Resolver struct {
	dir Directory
}

// New creates a Resolver validating against dir, which may be nil.
func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the first candidate endpoint confirmed by the directory.
func (r *Resolver) Resolve(d Descriptor) (string, bool) {
	if r == nil || r.dir == nil {
		return Resolve(d)
	}
	for _, c := range candidates(d) {
		if r.dir.Exists(c) {
			return c, true
		}
	}
	return "", false
}
