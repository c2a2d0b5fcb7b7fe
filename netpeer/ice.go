// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import "github.com/pion/webrtc/v4"

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN/TURN) tried during
	// candidate gathering, in order.
	Servers []webrtc.ICEServer
}

// DefaultICEConfig returns a config with no STUN/TURN servers — only
// host and loopback candidates are gathered. Sufficient for
// same-machine and same-LAN peers; a WAN deployment supplies its own
// ICEConfig with real STUN/TURN servers.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{}
}
