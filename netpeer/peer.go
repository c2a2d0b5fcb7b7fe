// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

const (
	signalingPollInterval = 2 * time.Second
	iceGatherTimeout      = 15 * time.Second
	answerPollInterval    = 500 * time.Millisecond
	answerTimeout         = 30 * time.Second
	dataChannelOpenTimeout = 10 * time.Second
)

// Peer establishes and authenticates WebRTC data channel connections
// to other peers identified by ouicrypto.UserId. One Peer instance
// holds at most one PeerConnection per remote UserId, with potentially
// many application-level streams multiplexed over it as separate data
// channels.
type Peer struct {
	self      ouicrypto.UserId
	signaler  Signaler
	auth      PeerAuthenticator
	iceConfig ICEConfig
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[ouicrypto.UserId]*peerConnection

	inbound chan inboundStream

	closed    chan struct{}
	closeOnce sync.Once

	channelCounter atomic.Uint64
}

type inboundStream struct {
	conn io.ReadWriteCloser
	peer ouicrypto.UserId
}

// peerConnection tracks one WebRTC PeerConnection to a remote UserId.
// established closes once ICE reaches Connected/Completed;
// authenticated closes once the mutual challenge-response handshake
// (package-level runPeerAuth) succeeds on the dedicated auth channel.
// Both channels are created with the peerConnection and closed when
// the connection reaches that stage, so waiters select on them
// without taking Peer.mu.
type peerConnection struct {
	pc            *webrtc.PeerConnection
	peer          ouicrypto.UserId
	established   chan struct{}
	authenticated chan struct{}
	authErr       error
}

// NewPeer creates a Peer identified by self, signing outbound auth
// challenges with keyPair and authenticating inbound ones against
// ouicrypto.Verify. signaler exchanges SDP between Peers; logger may
// be nil.
func NewPeer(self ouicrypto.UserId, keyPair *ouicrypto.KeyPair, signaler Signaler, iceConfig ICEConfig, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Peer{
		self:        self,
		signaler:    signaler,
		auth:        keyPairAuthenticator{keyPair: keyPair},
		iceConfig:   iceConfig,
		logger:      logger,
		connections: make(map[ouicrypto.UserId]*peerConnection),
		inbound:     make(chan inboundStream, 64),
		closed:      make(chan struct{}),
	}
}

// Serve polls the signaler for inbound offers until ctx is cancelled
// or Close is called. Run it in its own goroutine.
func (p *Peer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		case <-ticker.C:
			p.processInboundOffers(ctx)
		}
	}
}

// Close tears down every PeerConnection and stops further signaling.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.connections {
		conn.pc.Close()
		delete(p.connections, id)
	}
	return nil
}

// Dial opens an authenticated application data channel to peer,
// establishing and authenticating the underlying PeerConnection first
// if one does not already exist.
func (p *Peer) Dial(ctx context.Context, peer ouicrypto.UserId) (io.ReadWriteCloser, error) {
	select {
	case <-p.closed:
		return nil, fmt.Errorf("netpeer: peer is closed")
	default:
	}

	conn, err := p.getOrCreateConnection(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("netpeer: dialing %x: %w", peer, err)
	}

	select {
	case <-conn.authenticated:
		if conn.authErr != nil {
			return nil, fmt.Errorf("netpeer: dialing %x: %w", peer, conn.authErr)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("netpeer: peer is closed")
	}

	return p.openDataChannel(conn)
}

// Accept returns the next authenticated inbound application stream
// and the UserId of the peer that opened it.
func (p *Peer) Accept(ctx context.Context) (io.ReadWriteCloser, ouicrypto.UserId, error) {
	select {
	case s := <-p.inbound:
		return s.conn, s.peer, nil
	case <-ctx.Done():
		return nil, ouicrypto.UserId{}, ctx.Err()
	case <-p.closed:
		return nil, ouicrypto.UserId{}, fmt.Errorf("netpeer: peer is closed")
	}
}

func (p *Peer) getOrCreateConnection(ctx context.Context, peer ouicrypto.UserId) (*peerConnection, error) {
	p.mu.Lock()

	if conn, ok := p.connections[peer]; ok {
		state := conn.pc.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed {
			p.mu.Unlock()
			return p.waitEstablished(ctx, conn)
		}
		conn.pc.Close()
		delete(p.connections, peer)
	}

	pc, err := p.newPeerConnection()
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	conn := &peerConnection{
		pc:            pc,
		peer:          peer,
		established:   make(chan struct{}),
		authenticated: make(chan struct{}),
	}
	p.connections[peer] = conn
	p.mu.Unlock()

	if err := p.establishOutbound(ctx, conn); err != nil {
		p.mu.Lock()
		if current, ok := p.connections[peer]; ok && current == conn {
			delete(p.connections, peer)
		}
		p.mu.Unlock()
		pc.Close()
		return nil, err
	}

	return conn, nil
}

func (p *Peer) waitEstablished(ctx context.Context, conn *peerConnection) (*peerConnection, error) {
	select {
	case <-conn.established:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("netpeer: peer is closed")
	}
}

// establishOutbound runs SDP signaling for a freshly created
// PeerConnection already registered in p.connections, then opens and
// runs the mutual auth handshake over a dedicated "auth" data channel.
func (p *Peer) establishOutbound(ctx context.Context, conn *peerConnection) error {
	pc := conn.pc
	peer := conn.peer

	pc.OnDataChannel(func(dc *webrtc.DataChannel) { p.handleInboundDataChannel(dc, conn) })
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) { p.handleICEStateChange(conn, state) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.signaler.PublishOffer(ctx, p.self, peer, pc.LocalDescription().SDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}

	answerSDP, err := p.waitForAnswer(ctx, peer)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %x: %w", peer, err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	select {
	case <-conn.established:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return fmt.Errorf("netpeer: peer is closed")
	}

	return p.runOutboundAuth(ctx, conn)
}

// runOutboundAuth opens the auth data channel and runs the
// initiator's side of the handshake, recording the result on conn.
func (p *Peer) runOutboundAuth(ctx context.Context, conn *peerConnection) error {
	ordered := true
	dc, err := conn.pc.CreateDataChannel(authChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating auth data channel: %w", err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
	case <-time.After(dataChannelOpenTimeout):
		dc.Close()
		return fmt.Errorf("auth data channel did not open within %s", dataChannelOpenTimeout)
	case <-ctx.Done():
		dc.Close()
		return ctx.Err()
	}

	raw, err := dc.Detach()
	if err != nil {
		dc.Close()
		return fmt.Errorf("detaching auth data channel: %w", err)
	}

	err = runPeerAuth(raw, p.auth, p.self, conn.peer)
	conn.authErr = err
	close(conn.authenticated)
	if err != nil {
		return err
	}
	return nil
}

func (p *Peer) waitForAnswer(ctx context.Context, peer ouicrypto.UserId) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.closed:
			return "", fmt.Errorf("netpeer: peer is closed")
		case <-ticker.C:
			answers, err := p.signaler.PollAnswers(ctx, p.self)
			if err != nil {
				p.logger.Warn("polling for SDP answer failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.Peer == peer {
					return answer.SDP, nil
				}
			}
		}
	}
}

func (p *Peer) processInboundOffers(ctx context.Context) {
	offers, err := p.signaler.PollOffers(ctx, p.self)
	if err != nil {
		p.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		p.mu.Lock()
		existing, hasExisting := p.connections[offer.Peer]
		p.mu.Unlock()

		if hasExisting {
			state := existing.pc.ICEConnectionState()
			live := state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
			if live && bytes.Compare(offer.Peer[:], p.self[:]) > 0 {
				// We are the canonical offerer (lexicographically smaller
				// UserId); ignore their offer rather than race.
				continue
			}
			p.mu.Lock()
			existing.pc.Close()
			delete(p.connections, offer.Peer)
			p.mu.Unlock()
		}

		if err := p.answerOffer(ctx, offer); err != nil {
			p.logger.Error("answering offer failed", "peer", fmt.Sprintf("%x", offer.Peer), "error", err)
		}
	}
}

func (p *Peer) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := p.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	conn := &peerConnection{
		pc:            pc,
		peer:          offer.Peer,
		established:   make(chan struct{}),
		authenticated: make(chan struct{}),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) { p.handleInboundDataChannel(dc, conn) })
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) { p.handleICEStateChange(conn, state) })

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	if err := p.signaler.PublishAnswer(ctx, offer.Peer, p.self, pc.LocalDescription().SDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	p.mu.Lock()
	p.connections[offer.Peer] = conn
	p.mu.Unlock()

	return nil
}

// handleInboundDataChannel routes an incoming data channel: the
// "auth" label runs the responder's side of runPeerAuth; any other
// label is an application stream held until authentication completes,
// then delivered to Accept.
func (p *Peer) handleInboundDataChannel(dc *webrtc.DataChannel, conn *peerConnection) {
	if dc.Label() == authChannelLabel {
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				p.logger.Error("detaching auth data channel failed", "error", err)
				conn.authErr = err
				close(conn.authenticated)
				return
			}
			err = runPeerAuth(raw, p.auth, p.self, conn.peer)
			conn.authErr = err
			close(conn.authenticated)
			if err != nil {
				p.logger.Warn("peer authentication failed", "peer", fmt.Sprintf("%x", conn.peer), "error", err)
				conn.pc.Close()
			}
		})
		return
	}

	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			p.logger.Error("detaching inbound data channel failed", "label", dc.Label(), "error", err)
			return
		}
		stream := inboundStream{conn: newDataChannelConn(raw), peer: conn.peer}

		go func() {
			select {
			case <-conn.authenticated:
				if conn.authErr != nil {
					stream.conn.Close()
					return
				}
			case <-time.After(authTimeout):
				stream.conn.Close()
				return
			case <-p.closed:
				stream.conn.Close()
				return
			}
			select {
			case p.inbound <- stream:
			case <-p.closed:
				stream.conn.Close()
			}
		}()
	})
}

func (p *Peer) handleICEStateChange(conn *peerConnection, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		select {
		case <-conn.established:
		default:
			close(conn.established)
		}
	case webrtc.ICEConnectionStateClosed:
		p.mu.Lock()
		if current, ok := p.connections[conn.peer]; ok && current == conn {
			delete(p.connections, conn.peer)
		}
		p.mu.Unlock()
	}
}

func (p *Peer) openDataChannel(conn *peerConnection) (io.ReadWriteCloser, error) {
	label := fmt.Sprintf("stream-%d", p.channelCounter.Add(1))

	ordered := true
	dc, err := conn.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
	case <-time.After(dataChannelOpenTimeout):
		dc.Close()
		return nil, fmt.Errorf("data channel %s did not open within %s", label, dataChannelOpenTimeout)
	case <-p.closed:
		dc.Close()
		return nil, fmt.Errorf("netpeer: peer is closed")
	}

	raw, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}
	return newDataChannelConn(raw), nil
}

func (p *Peer) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{ICEServers: p.iceConfig.Servers}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}
