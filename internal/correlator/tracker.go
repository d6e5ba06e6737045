package correlator

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sweeney/ari-calllog/internal/calllog"
)

var (
	// ErrUnknownChannel is returned for events about a channel that is not
	// tracked.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrAlreadyTracked is returned when a channel is observed twice.
	ErrAlreadyTracked = errors.New("channel already tracked")
	// ErrAlreadyFinalized is returned for events about a channel whose
	// record was already produced.
	ErrAlreadyFinalized = errors.New("channel already finalized")
	// ErrEnded is returned when an event tries to move a call out of the
	// terminal state.
	ErrEnded = errors.New("call already ended")
	// ErrUnresolved is returned by Finalize when an endpoint is missing.
	// The call stays tracked until the reaper discards it.
	ErrUnresolved = errors.New("call endpoints unresolved")
	// ErrLegReleased is returned by Finalize when the channel was the peer
	// leg of another call. The leg is removed without a record.
	ErrLegReleased = errors.New("peer leg released")
)

// DefaultFinalizedCacheSize bounds the memory of recently finalized
// channel ids.
const DefaultFinalizedCacheSize = 10000

// Tracker is the keyed store of in-progress calls. All mutation goes
// through one mutex so dispatch and the reaper never interleave on a call.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*TrackedCall
	// legs maps a dialed peer channel to the channel that dialed it.
	legs      map[string]string
	finalized *lru.Cache[string, struct{}]
}

// NewTracker creates an empty tracker remembering up to finalizedCacheSize
// finalized channel ids.
func NewTracker(finalizedCacheSize int) *Tracker {
	if finalizedCacheSize <= 0 {
		finalizedCacheSize = DefaultFinalizedCacheSize
	}
	cache, _ := lru.New[string, struct{}](finalizedCacheSize)
	return &Tracker{
		calls:     make(map[string]*TrackedCall),
		legs:      make(map[string]string),
		finalized: cache,
	}
}

// Create starts tracking channel id in the Ringing state.
func (t *Tracker) Create(id, originating string, start time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finalized.Contains(id) {
		return ErrAlreadyFinalized
	}
	if _, exists := t.calls[id]; exists {
		return ErrAlreadyTracked
	}
	t.calls[id] = &TrackedCall{
		ChannelID:           id,
		OriginatingEndpoint: originating,
		State:               StateRinging,
		StartTime:           start,
		LegOf:               t.legs[id],
	}
	return nil
}

// Update applies fn to the tracked call under the tracker lock.
func (t *Tracker) Update(id string, fn func(*TrackedCall) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.lookup(id)
	if err != nil {
		return err
	}
	return fn(c)
}

// LinkPeer records that callerID dialed peerID and remembers the peer's
// resolved endpoint. Until a dial result arrives the first resolved peer
// stands as the terminating endpoint. A tracked peer channel is marked as a
// leg of the caller.
func (t *Tracker) LinkPeer(callerID, peerID, endpoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.lookup(callerID)
	if err != nil {
		return err
	}
	if c.State == StateEnded {
		return ErrEnded
	}

	t.link(c, peerID, endpoint)
	if endpoint != "" && c.TerminatingEndpoint == "" {
		c.TerminatingEndpoint = endpoint
	}
	return nil
}

// BindDialResult sets the call's final status from a dial result and makes
// the peer that produced it the terminating endpoint. endpoint is the peer
// as resolved from the result; when empty the endpoint remembered from
// LinkPeer is used. An Answered status is never replaced.
func (t *Tracker) BindDialResult(callerID, peerID, endpoint string, status calllog.Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.lookup(callerID)
	if err != nil {
		return err
	}
	if c.State == StateEnded {
		return ErrEnded
	}
	if c.FinalStatus == calllog.StatusAnswered {
		return nil
	}

	c.FinalStatus = status
	if peerID == "" {
		return nil
	}
	if endpoint == "" {
		endpoint = c.peers[peerID]
	}
	t.link(c, peerID, endpoint)
	if endpoint != "" {
		c.TerminatingEndpoint = endpoint
	}
	return nil
}

// Finalize applies fn to the call and, when both endpoints are resolved,
// removes it and returns its record. The finalized flag is set under the
// same lock, so a channel yields at most one record.
//
// If fn fails nothing else happens. If an endpoint is missing the mutation
// made by fn is kept and ErrUnresolved is returned.
func (t *Tracker) Finalize(id string, fn func(*TrackedCall) error) (calllog.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.lookup(id)
	if err != nil {
		return calllog.Record{}, err
	}
	if err := fn(c); err != nil {
		return calllog.Record{}, err
	}

	if c.LegOf != "" {
		t.remove(c)
		return calllog.Record{}, ErrLegReleased
	}
	if c.OriginatingEndpoint == "" || c.TerminatingEndpoint == "" {
		return calllog.Record{}, ErrUnresolved
	}

	c.finalized = true
	t.remove(c)
	t.finalized.Add(id, struct{}{})
	return c.record(), nil
}

// Reap removes every unfinalized call that started before cutoff and
// returns copies of them.
func (t *Tracker) Reap(cutoff time.Time) []TrackedCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reaped []TrackedCall
	for _, c := range t.calls {
		if c.finalized || !c.StartTime.Before(cutoff) {
			continue
		}
		reaped = append(reaped, *c)
		t.remove(c)
	}
	return reaped
}

// Get returns a copy of the tracked call.
func (t *Tracker) Get(id string) (TrackedCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[id]
	if !ok {
		return TrackedCall{}, false
	}
	return *c, true
}

// Finalized reports whether id was finalized recently.
func (t *Tracker) Finalized(id string) bool {
	return t.finalized.Contains(id)
}

// Legs returns the number of dialed peer channels linked to a tracked call.
func (t *Tracker) Legs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.legs)
}

// Len returns the number of tracked calls.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *Tracker) lookup(id string) (*TrackedCall, error) {
	c, ok := t.calls[id]
	if ok {
		return c, nil
	}
	if t.finalized.Contains(id) {
		return nil, ErrAlreadyFinalized
	}
	return nil, ErrUnknownChannel
}

// link records peerID as dialed by c. A known endpoint is never replaced by
// an empty one. Caller holds t.mu.
func (t *Tracker) link(c *TrackedCall, peerID, endpoint string) {
	if c.peers == nil {
		c.peers = make(map[string]string)
	}
	if endpoint != "" {
		c.peers[peerID] = endpoint
	} else if _, ok := c.peers[peerID]; !ok {
		c.peers[peerID] = ""
	}
	c.PeerChannelID = peerID

	t.legs[peerID] = c.ChannelID
	if peer, ok := t.calls[peerID]; ok && peer.LegOf == "" {
		peer.LegOf = c.ChannelID
	}
}

// remove deletes c and every leg entry that refers to it. Caller holds
// t.mu.
func (t *Tracker) remove(c *TrackedCall) {
	delete(t.calls, c.ChannelID)
	delete(t.legs, c.ChannelID)
	for peerID := range c.peers {
		if t.legs[peerID] == c.ChannelID {
			delete(t.legs, peerID)
		}
	}
}
