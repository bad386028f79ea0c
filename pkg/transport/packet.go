package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"

	"github.com/google/uuid"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports (tcp, ipc, inproc, ws, tls+tcp)
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

const defaultResponderWorkers = 4

// PacketChannel sends mesh requests over NNG REQ/REP sockets. Targets are
// NNG addresses such as "tcp://10.0.0.7:7400". One REQ socket is kept per
// target and every request runs on its own socket context, so concurrent
// sends to the same peer do not serialize.
type PacketChannel struct {
	node    models.PeerID
	timeout time.Duration
	metrics *metrics.Registry

	mu      sync.Mutex
	sockets map[models.PeerID]mangos.Socket
	closed  bool
}

// NewPacketChannel creates a packet mesh channel.
func NewPacketChannel(opts Options) *PacketChannel {
	return &PacketChannel{
		node:    opts.Node,
		timeout: opts.timeout(),
		metrics: opts.Metrics,
		sockets: make(map[models.PeerID]mangos.Socket),
	}
}

// Kind implements Channel.
func (c *PacketChannel) Kind() models.TransportKind {
	return models.TransportPacketMesh
}

// Send implements Channel.
func (c *PacketChannel) Send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.send(ctx, target, apiPath, payload)
	observe(c.metrics, models.TransportPacketMesh, start, err)
	return raw, err
}

func (c *PacketChannel) send(ctx context.Context, target models.PeerID, apiPath string, payload any) (json.RawMessage, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonMalformed, fmt.Errorf("encode payload: %w", err))
	}

	wait := budget(ctx, c.timeout)
	if wait <= 0 {
		return nil, c.fail(target, apiPath, ReasonTimeout, context.DeadlineExceeded)
	}

	sock, err := c.socket(target)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}

	sockCtx, err := sock.OpenContext()
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}
	defer func() {
		_ = sockCtx.Close()
	}()

	if err := sockCtx.SetOption(mangos.OptionSendDeadline, wait); err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}
	if err := sockCtx.SetOption(mangos.OptionRecvDeadline, wait); err != nil {
		return nil, c.fail(target, apiPath, ReasonUnreachable, err)
	}

	request := models.Envelope{
		ID:      uuid.NewString(),
		From:    c.node,
		To:      target,
		APIPath: apiPath,
		Payload: body,
	}
	frame, err := json.Marshal(request)
	if err != nil {
		return nil, c.fail(target, apiPath, ReasonMalformed, err)
	}

	if err := sockCtx.Send(frame); err != nil {
		return nil, c.fail(target, apiPath, classify(ctx, err), err)
	}

	reply, err := sockCtx.Recv()
	if err != nil {
		return nil, c.fail(target, apiPath, classify(ctx, err), err)
	}

	var response models.Envelope
	if err := json.Unmarshal(reply, &response); err != nil {
		return nil, c.fail(target, apiPath, ReasonMalformed, err)
	}
	if response.ID != request.ID {
		return nil, c.fail(target, apiPath, ReasonMalformed,
			fmt.Errorf("reply %s does not match request %s", response.ID, request.ID))
	}
	if response.Error != "" {
		return nil, c.fail(target, apiPath, ReasonRemote, errors.New(response.Error))
	}

	return response.Payload, nil
}

// socket returns the REQ socket dialed to target, dialing on first use. A
// failed dial is not cached, so the next send dials again.
func (c *PacketChannel) socket(target models.PeerID) (mangos.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChannelClosed
	}
	if sock, ok := c.sockets[target]; ok {
		return sock, nil
	}

	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create REQ socket: %w", err)
	}
	// A zero retry time disables REQ resends.
	if err := sock.SetOption(mangos.OptionRetryTime, time.Duration(0)); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.Dial(string(target)); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c.sockets[target] = sock
	return sock, nil
}

// Close implements Channel.
func (c *PacketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for target, sock := range c.sockets {
		if err := sock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", target, err))
		}
		delete(c.sockets, target)
	}
	return errors.Join(errs...)
}

func (c *PacketChannel) fail(target models.PeerID, apiPath string, reason Reason, err error) error {
	return newError(models.TransportPacketMesh, target, apiPath, reason, err)
}

// PacketResponder serves mesh requests arriving on an NNG REP socket.
type PacketResponder struct {
	sock    mangos.Socket
	node    models.PeerID
	handler Handler
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPacketResponder listens on addr, e.g. "tcp://0.0.0.0:7400".
func NewPacketResponder(addr string, opts Options) (*PacketResponder, error) {
	if opts.Handler == nil {
		return nil, errors.New("packet responder requires a handler")
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create REP socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &PacketResponder{
		sock:    sock,
		node:    opts.Node,
		handler: opts.Handler,
		workers: defaultResponderWorkers,
		timeout: opts.timeout(),
	}, nil
}

// Start launches the responder workers.
func (r *PacketResponder) Start() error {
	for i := 0; i < r.workers; i++ {
		sockCtx, err := r.sock.OpenContext()
		if err != nil {
			return fmt.Errorf("open REP context: %w", err)
		}
		r.wg.Add(1)
		go r.serve(sockCtx)
	}
	log.Info().Int("workers", r.workers).Msg("Packet mesh responder started")
	return nil
}

func (r *PacketResponder) serve(sockCtx mangos.Context) {
	defer r.wg.Done()
	defer func() {
		_ = sockCtx.Close()
	}()

	for {
		frame, err := sockCtx.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("Packet mesh receive failed")
			continue
		}

		reply := r.handle(frame)
		out, err := json.Marshal(reply)
		if err != nil {
			log.Error().Err(err).Str("id", reply.ID).Msg("Failed to encode packet mesh reply")
			continue
		}
		if err := sockCtx.Send(out); err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			log.Warn().Err(err).Str("id", reply.ID).Msg("Packet mesh reply failed")
		}
	}
}

func (r *PacketResponder) handle(frame []byte) models.Envelope {
	var request models.Envelope
	if err := json.Unmarshal(frame, &request); err != nil {
		return models.Envelope{Reply: true, From: r.node, Error: "malformed request: " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return serveEnvelope(ctx, r.node, request, r.handler)
}

// Close stops the responder and waits for its workers.
func (r *PacketResponder) Close() error {
	err := r.sock.Close()
	r.wg.Wait()
	return err
}

// serveEnvelope runs a handler for one request envelope and builds the reply.
func serveEnvelope(ctx context.Context, node models.PeerID, request models.Envelope, handler Handler) models.Envelope {
	reply := models.Envelope{ID: request.ID, From: node, To: request.From, APIPath: request.APIPath, Reply: true}

	result, err := handler(ctx, request.APIPath, request.Payload)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	payload, err := encodePayload(result)
	if err != nil {
		reply.Error = "encode reply: " + err.Error()
		return reply
	}
	reply.Payload = payload
	return reply
}
