// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncproto

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

// Handler answers the requests a peer sends on a Session. Every field
// is optional; a nil field means "this session does not serve that
// request" and Session drops the incoming request rather than
// answering it (the requester's own context deadline is what surfaces
// the failure — spec.md §4.8 defines no explicit not-found message).
type Handler struct {
	// OnRootAnnounce is called for an unsolicited root push. No
	// response is sent.
	OnRootAnnounce func(RootMessage)

	// OnRootRequest answers a pull for userID's current root.
	OnRootRequest func(userID ouicrypto.UserId) (RootMessage, bool)

	// OnChildrenRequest answers a pull for a trie node's encoded
	// bytes by its content hash.
	OnChildrenRequest func(hash ouicrypto.Hash) (encoded []byte, ok bool)

	// OnBlockRequest answers a pull for one block's nonce and
	// ciphertext.
	OnBlockRequest func(locator, blockID ouicrypto.Hash) (nonce, ciphertext []byte, ok bool)

	// OnInterest is called when the peer declares it wants to sync
	// repositoryID. Returning false drops the request instead of
	// acknowledging it.
	OnInterest func(repositoryID ouicrypto.Hash) bool

	// OnHeartbeat is called for a received heartbeat. No response is
	// sent.
	OnHeartbeat func()
}

// pendingResult is what a background Run loop delivers to a blocked
// request call: either the matching response envelope, or the error
// that ended the session before a response arrived.
type pendingResult struct {
	env envelope
	err error
}

// Session multiplexes spec.md §4.8's request/response and
// fire-and-forget messages over one io.ReadWriteCloser. Either side
// may call the Send*/Request* methods concurrently with Run reading
// and dispatching incoming messages; Session serializes writes and
// matches responses to requests by RequestId so a slow block fetch
// never blocks a concurrent root pull.
type Session struct {
	rw io.ReadWriteCloser

	writeMu sync.Mutex

	nextRequestId atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingResult

	handler Handler
}

// NewSession wraps rw in a Session. Call Run in its own goroutine to
// start processing incoming messages; Send*/Request* may be called
// before Run starts, they just won't receive responses until it does.
func NewSession(rw io.ReadWriteCloser, handler Handler) *Session {
	return &Session{
		rw:      rw,
		pending: make(map[uint64]chan pendingResult),
		handler: handler,
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.rw.Close()
}

// Run reads and dispatches incoming messages until the connection
// closes, ctx is cancelled, or an unrecognized message Kind arrives.
// It returns the error that ended the loop; a clean shutdown still
// returns the io.EOF (or similar) that closing rw produces. Every
// pending Request* call unblocks with that same error.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.failPending(err)
			return err
		}

		env, err := readEnvelope(s.rw)
		if err != nil {
			s.failPending(err)
			return err
		}

		switch env.Kind {
		case KindRoot, KindChildren, KindBlock, KindInterestAck:
			s.resolvePending(env)
		default:
			if err := s.dispatch(env); err != nil {
				s.failPending(err)
				return err
			}
		}
	}
}

func (s *Session) dispatch(env envelope) error {
	switch env.Kind {
	case KindRootAnnounce:
		var msg RootMessage
		if err := decodeBody(env.Body, &msg); err != nil {
			return err
		}
		if s.handler.OnRootAnnounce != nil {
			s.handler.OnRootAnnounce(msg)
		}
		return nil

	case KindRootRequest:
		var req RootRequest
		if err := decodeBody(env.Body, &req); err != nil {
			return err
		}
		if s.handler.OnRootRequest == nil {
			return nil
		}
		msg, ok := s.handler.OnRootRequest(req.UserId)
		if !ok {
			return nil
		}
		return s.respond(KindRoot, env.RequestId, msg)

	case KindChildrenRequest:
		var req ChildrenRequest
		if err := decodeBody(env.Body, &req); err != nil {
			return err
		}
		if s.handler.OnChildrenRequest == nil {
			return nil
		}
		encoded, ok := s.handler.OnChildrenRequest(req.Hash)
		if !ok {
			return nil
		}
		return s.respond(KindChildren, env.RequestId, Children{Hash: req.Hash, Encoded: encoded})

	case KindBlockRequest:
		var req BlockRequest
		if err := decodeBody(env.Body, &req); err != nil {
			return err
		}
		if s.handler.OnBlockRequest == nil {
			return nil
		}
		nonce, ciphertext, ok := s.handler.OnBlockRequest(req.Locator, req.BlockId)
		if !ok {
			return nil
		}
		return s.respond(KindBlock, env.RequestId, Block{Locator: req.Locator, BlockId: req.BlockId, Nonce: nonce, Ciphertext: ciphertext})

	case KindInterest:
		var req Interest
		if err := decodeBody(env.Body, &req); err != nil {
			return err
		}
		if s.handler.OnInterest == nil || !s.handler.OnInterest(req.RepositoryId) {
			return nil
		}
		return s.respond(KindInterestAck, env.RequestId, struct{}{})

	case KindHeartbeat:
		if s.handler.OnHeartbeat != nil {
			s.handler.OnHeartbeat()
		}
		return nil

	default:
		return fmt.Errorf("syncproto: unrecognized message kind %d", env.Kind)
	}
}

func (s *Session) respond(kind Kind, requestID uint64, payload any) error {
	body, err := encodeBody(payload)
	if err != nil {
		return err
	}
	return s.writeEnvelope(envelope{Kind: kind, RequestId: requestID, Body: body})
}

func (s *Session) writeEnvelope(env envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeEnvelope(s.rw, env)
}

func (s *Session) resolvePending(env envelope) {
	s.pendingMu.Lock()
	ch, ok := s.pending[env.RequestId]
	s.pendingMu.Unlock()
	if ok {
		ch <- pendingResult{env: env}
	}
}

func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		ch <- pendingResult{err: err}
		delete(s.pending, id)
	}
}

// request sends a Kind message with a fresh RequestId and blocks until
// a matching response arrives, ctx is done, or Run ends the session.
func (s *Session) request(ctx context.Context, kind Kind, payload any) (envelope, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return envelope{}, err
	}

	id := s.nextRequestId.Add(1)
	ch := make(chan pendingResult, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeEnvelope(envelope{Kind: kind, RequestId: id, Body: body}); err != nil {
		return envelope{}, err
	}

	select {
	case result := <-ch:
		if result.err != nil {
			return envelope{}, result.err
		}
		return result.env, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// SendRootAnnounce pushes msg unsolicited; no response is expected.
func (s *Session) SendRootAnnounce(msg RootMessage) error {
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}
	return s.writeEnvelope(envelope{Kind: KindRootAnnounce, Body: body})
}

// RequestRoot pulls the peer's current root for userID.
func (s *Session) RequestRoot(ctx context.Context, userID ouicrypto.UserId) (RootMessage, error) {
	resp, err := s.request(ctx, KindRootRequest, RootRequest{UserId: userID})
	if err != nil {
		return RootMessage{}, err
	}
	var msg RootMessage
	if err := decodeBody(resp.Body, &msg); err != nil {
		return RootMessage{}, err
	}
	return msg, nil
}

// RequestChildren pulls the encoded trie node stored under hash.
func (s *Session) RequestChildren(ctx context.Context, hash ouicrypto.Hash) ([]byte, error) {
	resp, err := s.request(ctx, KindChildrenRequest, ChildrenRequest{Hash: hash})
	if err != nil {
		return nil, err
	}
	var children Children
	if err := decodeBody(resp.Body, &children); err != nil {
		return nil, err
	}
	return children.Encoded, nil
}

// RequestBlock pulls one block's nonce and ciphertext.
func (s *Session) RequestBlock(ctx context.Context, locator, blockID ouicrypto.Hash) (nonce, ciphertext []byte, err error) {
	resp, err := s.request(ctx, KindBlockRequest, BlockRequest{Locator: locator, BlockId: blockID})
	if err != nil {
		return nil, nil, err
	}
	var block Block
	if err := decodeBody(resp.Body, &block); err != nil {
		return nil, nil, err
	}
	return block.Nonce, block.Ciphertext, nil
}

// RequestInterest declares that this side wants to sync repositoryID
// and waits for the peer's acknowledgement.
func (s *Session) RequestInterest(ctx context.Context, repositoryID ouicrypto.Hash) error {
	_, err := s.request(ctx, KindInterest, Interest{RepositoryId: repositoryID})
	return err
}

// SendHeartbeat sends a heartbeat; no response is expected.
func (s *Session) SendHeartbeat() error {
	return s.writeEnvelope(envelope{Kind: KindHeartbeat})
}
