// Package webrtc carries relay connections over WebRTC DataChannels.
package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// ChannelLabel names the DataChannel a sync peer opens towards the relay.
const ChannelLabel = "sync"

// DefaultSTUNServers are used when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// NewPeerConnection creates a PeerConnection using the given STUN servers.
func NewPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// CreateDataChannel opens the sync channel on pc. Envelopes for one document
// must arrive in order, so the channel is ordered and reliable.
func CreateDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}
