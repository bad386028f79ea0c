package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	// maxFrameSize bounds one compressed envelope on the radio link.
	maxFrameSize = 64 << 10
	frameHeader  = 4
)

// RadioChannel sends mesh requests over a shared radio modem link.
//
// The link is a plain byte stream without request/response semantics, so
// every envelope carries a UUID and a single reader goroutine routes each
// reply to the Send waiting on that ID. Envelopes are snappy-compressed and
// length-prefixed. Requests addressed to this node (or to everyone) are
// passed to the configured Handler and answered on the same link.
type RadioChannel struct {
	link    io.ReadWriteCloser
	node    models.PeerID
	timeout time.Duration
	metrics *metrics.Registry

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan models.Envelope
	handler Handler
	readErr error
	done    chan struct{}

	closeOnce sync.Once
}

// NewRadioChannel starts reading from link.
func NewRadioChannel(link io.ReadWriteCloser, opts Options) *RadioChannel {
	c := &RadioChannel{
		link:    link,
		node:    opts.Node,
		timeout: opts.timeout(),
		metrics: opts.Metrics,
		pending: make(map[string]chan models.Envelope),
		handler: opts.Handler,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// OpenDevice opens a radio modem device node (already configured for raw
// byte transfer, e.g. a KISS TNC serial port).
func OpenDevice(path string) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open radio device %s: %w", path, err)
	}
	return f, nil
}

// Kind implements Channel.
func (c *RadioChannel) Kind() models.TransportKind {
	return models.TransportRadioMesh
}

// Handle installs the handler for inbound requests.
func (c *RadioChannel) Handle(handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Send implements Channel.
func (c *RadioChannel) Send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.send(ctx, target, apiPath, payload)
	observe(c.metrics, models.TransportRadioMesh, start, err)
	return raw, err
}

func (c *RadioChannel) send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonMalformed, fmt.Errorf("encode payload: %w", err))
	}

	request := models.Envelope{
		ID:      uuid.NewString(),
		From:    c.node,
		To:      target,
		APIPath: apiPath,
		Payload: body,
	}

	replies, err := c.register(request.ID)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}
	defer c.unregister(request.ID)

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.writeEnvelope(request); err != nil {
		if errors.Is(err, errFrameTooLarge) {
			return nil, c.fail(target, apiPath, ReasonMalformed, err)
		}
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}

	select {
	case reply := <-replies:
		if reply.Error != "" {
			return nil, c.fail(target, apiPath, ReasonRemote, errors.New(reply.Error))
		}
		return reply.Payload, nil
	case <-sendCtx.Done():
		return nil, c.fail(target, apiPath, ReasonTimeout, sendCtx.Err())
	case <-c.done:
		return nil, c.fail(target, apiPath, ReasonUnreachable, c.linkError())
	}
}

func (c *RadioChannel) register(id string) (chan models.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, c.readErrLocked()
	default:
	}

	replies := make(chan models.Envelope, 1)
	c.pending[id] = replies
	return replies, nil
}

func (c *RadioChannel) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *RadioChannel) linkError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErrLocked()
}

func (c *RadioChannel) readErrLocked() error {
	if c.readErr != nil {
		return c.readErr
	}
	return ErrChannelClosed
}

func (c *RadioChannel) readLoop() {
	defer close(c.done)

	for {
		env, err := readEnvelope(c.link)
		if err != nil {
			var malformed *malformedFrameError
			if errors.As(err, &malformed) {
				log.Warn().Err(err).Msg("Dropping malformed radio frame")
				continue
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				log.Warn().Err(err).Msg("Radio link read failed")
			}
			return
		}

		if env.Reply {
			c.deliver(env)
			continue
		}
		if env.To != "" && env.To != c.node {
			// Shared medium: frames for other stations are ignored.
			continue
		}
		go c.serve(env)
	}
}

func (c *RadioChannel) deliver(env models.Envelope) {
	c.mu.Lock()
	replies, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("id", env.ID).Str("from", string(env.From)).Msg("Dropping unmatched radio reply")
		return
	}
	replies <- env
}

func (c *RadioChannel) serve(request models.Envelope) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		log.Debug().Str("api_path", request.APIPath).Msg("No radio handler installed, ignoring request")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reply := serveEnvelope(ctx, c.node, request, handler)
	if err := c.writeEnvelope(reply); err != nil {
		log.Warn().Err(err).Str("id", request.ID).Msg("Radio reply failed")
	}
}

func (c *RadioChannel) writeEnvelope(env models.Envelope) error {
	frame, err := encodeFrame(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err = c.link.Write(frame)
	return err
}

// Close implements Channel. Pending sends fail as unreachable.
func (c *RadioChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.link.Close()
	})
	return err
}

func (c *RadioChannel) fail(target models.PeerID, apiPath string, reason Reason, err error) error {
	return newError(models.TransportRadioMesh, target, apiPath, reason, err)
}

var errFrameTooLarge = errors.New("radio frame too large")

type malformedFrameError struct {
	err error
}

func (e *malformedFrameError) Error() string {
	return "malformed radio frame: " + e.err.Error()
}

func (e *malformedFrameError) Unwrap() error {
	return e.err
}

// encodeFrame compresses an envelope and prefixes it with its length.
func encodeFrame(env models.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	compressed := snappy.Encode(nil, data)
	if len(compressed) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(compressed))
	}

	frame := make([]byte, frameHeader+len(compressed))
	binary.BigEndian.PutUint32(frame, uint32(len(compressed)))
	copy(frame[frameHeader:], compressed)
	return frame, nil
}

// readEnvelope reads one frame. Stream errors end the link; a bad frame body
// is reported as *malformedFrameError and the stream stays usable.
func readEnvelope(r io.Reader) (models.Envelope, error) {
	var env models.Envelope

	var header [frameHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return env, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		// The stream cannot be resynchronized after a bogus length.
		return env, fmt.Errorf("%w: %d bytes", errFrameTooLarge, size)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return env, err
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return env, &malformedFrameError{err: err}
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, &malformedFrameError{err: err}
	}
	return env, nil
}
