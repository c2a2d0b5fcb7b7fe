// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import (
	"context"
	"sync"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

var _ Signaler = (*MemorySignaler)(nil)

type signalKey struct {
	from, to ouicrypto.UserId
}

// MemorySignaler is an in-process Signaler for tests and single-process
// deployments: two Peers sharing one MemorySignaler can establish a
// PeerConnection without any external rendezvous.
type MemorySignaler struct {
	mu          sync.Mutex
	offers      map[signalKey]versionedSignal
	answers     map[signalKey]versionedSignal
	seenOffers  map[signalKey]uint64
	seenAnswers map[signalKey]uint64
	version     uint64
}

type versionedSignal struct {
	sdp     string
	version uint64
}

// NewMemorySignaler creates a new in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:      make(map[signalKey]versionedSignal),
		answers:     make(map[signalKey]versionedSignal),
		seenOffers:  make(map[signalKey]uint64),
		seenAnswers: make(map[signalKey]uint64),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, self, target ouicrypto.UserId, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.offers[signalKey{from: self, to: target}] = versionedSignal{sdp: sdp, version: s.version}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, self ouicrypto.UserId, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.answers[signalKey{from: offerer, to: self}] = versionedSignal{sdp: sdp, version: s.version}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, self ouicrypto.UserId) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SignalMessage
	for key, sig := range s.offers {
		if key.to != self {
			continue
		}
		if last, ok := s.seenOffers[key]; ok && last >= sig.version {
			continue
		}
		s.seenOffers[key] = sig.version
		out = append(out, SignalMessage{Peer: key.from, SDP: sig.sdp})
	}
	return out, nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, self ouicrypto.UserId) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SignalMessage
	for key, sig := range s.answers {
		if key.from != self {
			continue
		}
		if last, ok := s.seenAnswers[key]; ok && last >= sig.version {
			continue
		}
		s.seenAnswers[key] = sig.version
		out = append(out, SignalMessage{Peer: key.to, SDP: sig.sdp})
	}
	return out, nil
}
