// Package transporttest provides an in-memory transport.Channel for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

// Responder answers one request sent to a fake peer.
type Responder func(ctx context.Context, apiPath string, payload json.RawMessage) (any, error)

// Call records one Send.
type Call struct {
	Target  models.PeerID
	APIPath string
	Payload json.RawMessage
}

// FakeChannel routes sends to per-peer responders. Peers without a
// responder are unreachable. Responder errors become remote transport errors.
type FakeChannel struct {
	kind models.TransportKind

	mu         sync.Mutex
	responders map[models.PeerID]Responder
	calls      []Call
}

// NewFakeChannel creates a fake HTTP-kind channel.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		kind:       models.TransportHTTP,
		responders: make(map[models.PeerID]Responder),
	}
}

// On installs the responder for peer.
func (f *FakeChannel) On(peer models.PeerID, responder Responder) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[peer] = responder
	return f
}

// Reply makes peer answer every request with value.
func (f *FakeChannel) Reply(peer models.PeerID, value any) *FakeChannel {
	return f.On(peer, func(context.Context, string, json.RawMessage) (any, error) {
		return value, nil
	})
}

// Hang makes peer block until the request context ends.
func (f *FakeChannel) Hang(peer models.PeerID) *FakeChannel {
	return f.On(peer, func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// Kind implements transport.Channel.
func (f *FakeChannel) Kind() models.TransportKind {
	return f.kind
}

// Send implements transport.Channel.
func (f *FakeChannel) Send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, f.fail(target, apiPath, transport.ReasonMalformed, err)
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Target: target, APIPath: apiPath, Payload: body})
	responder, ok := f.responders[target]
	f.mu.Unlock()

	if !ok {
		return nil, f.fail(target, apiPath, transport.ReasonUnreachable, errors.New("connection refused"))
	}

	result, err := responder(ctx, apiPath, body)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, terr
		}
		if ctx.Err() != nil {
			return nil, f.fail(target, apiPath, transport.ReasonTimeout, err)
		}
		return nil, f.fail(target, apiPath, transport.ReasonRemote, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, f.fail(target, apiPath, transport.ReasonMalformed, err)
	}
	return raw, nil
}

// Close implements transport.Channel.
func (f *FakeChannel) Close() error {
	return nil
}

// Calls returns a copy of every recorded send.
func (f *FakeChannel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of sends, optionally limited to one API path.
func (f *FakeChannel) CallCount(apiPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if apiPath == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.APIPath == apiPath {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded sends.
func (f *FakeChannel) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *FakeChannel) fail(target models.PeerID, apiPath string, reason transport.Reason, err error) error {
	return &transport.Error{Kind: f.kind, Target: target, APIPath: apiPath, Reason: reason, Err: err}
}
