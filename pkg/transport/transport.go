// Package transport delivers internal mesh requests to peers over HTTP, the
// NNG packet mesh or a radio modem link, behind one Channel interface.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
)

const (
	defaultTimeout = 5 * time.Second
	// Responses above this size are rejected as malformed.
	maxResponseBytes = 8 << 20
)

// Channel sends one request to one peer over one transport kind.
//
// Every failure is returned as a *Error. Send never retries; callers decide.
type Channel interface {
	Kind() models.TransportKind
	Send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error)
	Close() error
}

// Handler serves an inbound mesh request on the responder side of a transport.
type Handler func(ctx context.Context, apiPath string, payload json.RawMessage) (any, error)

// Options configures a channel.
type Options struct {
	// Node is this node's own identifier, stamped on outgoing envelopes.
	Node models.PeerID
	// Timeout bounds every single Send.
	Timeout time.Duration
	// Link is the byte stream of the radio modem. Required for radioMesh.
	Link io.ReadWriteCloser
	// Handler serves requests arriving on a shared radio link.
	Handler Handler
	// Metrics is optional.
	Metrics *metrics.Registry
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// Open creates a channel of the given kind.
func Open(kind models.TransportKind, opts Options) (Channel, error) {
	switch kind {
	case models.TransportHTTP:
		return NewHTTPChannel(opts), nil
	case models.TransportPacketMesh:
		return NewPacketChannel(opts), nil
	case models.TransportRadioMesh:
		if opts.Link == nil {
			return nil, errors.New("radio mesh channel requires a link")
		}
		return NewRadioChannel(opts.Link, opts), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// encodePayload marshals a payload unless it is already encoded JSON.
func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// budget returns the time left for one send, bounded by both the channel
// timeout and the caller's deadline.
func budget(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return remaining
		}
	}
	return timeout
}

func observe(m *metrics.Registry, kind models.TransportKind, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	var terr *Error
	if errors.As(err, &terr) {
		result = string(terr.Reason)
	}
	m.TransportRequestsTotal.WithLabelValues(string(kind), result).Inc()
	m.TransportRequestSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// Decode unmarshals a channel response into out.
func Decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("empty response")
	}
	return json.Unmarshal(raw, out)
}
