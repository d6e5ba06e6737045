package correlator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/ari"
)

// dialStarted links the dialed peer to the calling channel. An unresolvable
// peer still records the peer channel; the call then never finalizes and is
// left for the reaper.
func (d *Dispatcher) dialStarted(evt ari.Event) error {
	ep := d.resolve(evt.Peer)
	if ep == "" {
		d.log.Debug("terminating endpoint unresolved",
			zap.String("channel", evt.Caller.ID),
			zap.String("peer", evt.Peer.ID),
			zap.String("name", evt.Peer.Name))
	}
	return d.tracker.LinkPeer(evt.Caller.ID, evt.Peer.ID, ep)
}

// dialEnded records the dial result as the call's final status and binds
// the terminating endpoint to the peer that produced it, so a sequential
// dial reports the last peer tried.
//
// In a hunt group every losing leg ends with CANCEL after one leg answers,
// so an Answered result is never overwritten.
func (d *Dispatcher) dialEnded(evt ari.Event) error {
	status, ok := DialStatusToStatus(evt.DialStatus)
	if !ok {
		return fmt.Errorf("%w: dial status %s", errIgnored, evt.DialStatus)
	}

	var peerID, ep string
	if evt.Peer != nil {
		peerID, ep = evt.Peer.ID, d.resolve(evt.Peer)
	}
	return d.tracker.BindDialResult(evt.Caller.ID, peerID, ep, status)
}
