// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import (
	"context"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

// Signaler abstracts the mechanism for exchanging WebRTC session
// descriptions between peers. Connection establishment uses vanilla
// ICE: all candidates are gathered before the SDP is published, so
// signaling requires exactly one round trip (offer -> answer).
type Signaler interface {
	// PublishOffer publishes a complete SDP offer from self, directed
	// at target.
	PublishOffer(ctx context.Context, self, target ouicrypto.UserId, sdp string) error

	// PublishAnswer publishes a complete SDP answer from self, in
	// response to a previously received offer from offerer.
	PublishAnswer(ctx context.Context, offerer, self ouicrypto.UserId, sdp string) error

	// PollOffers returns pending offers directed at self.
	PollOffers(ctx context.Context, self ouicrypto.UserId) ([]SignalMessage, error)

	// PollAnswers returns pending answers to offers self made.
	PollAnswers(ctx context.Context, self ouicrypto.UserId) ([]SignalMessage, error)
}

// SignalMessage is one signaling message (offer or answer). Peer is
// the other party: for a received offer, the offerer; for a received
// answer, the answerer.
type SignalMessage struct {
	Peer ouicrypto.UserId
	SDP  string
}
