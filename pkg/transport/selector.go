package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"kmesh/pkg/log"
	"kmesh/pkg/models"
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks whether one transport kind is usable from this node.
type Probe func(ctx context.Context) error

// Selector detects which transport kinds are usable and picks the best one.
type Selector struct {
	mu      sync.RWMutex
	probes  map[models.TransportKind]Probe
	timeout time.Duration
}

// NewSelector creates a selector; timeout bounds each probe individually.
func NewSelector(timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Selector{
		probes:  make(map[models.TransportKind]Probe),
		timeout: timeout,
	}
}

// Register sets the probe for a transport kind, replacing any previous one.
func (s *Selector) Register(kind models.TransportKind, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[kind] = probe
}

// Detect runs every probe concurrently and returns the kinds whose probe
// succeeded, in models.TransportKinds order. A failing or hanging probe only
// marks its kind unavailable.
func (s *Selector) Detect(ctx context.Context) []models.TransportKind {
	s.mu.RLock()
	probes := make(map[models.TransportKind]Probe, len(s.probes))
	for kind, probe := range s.probes {
		probes[kind] = probe
	}
	s.mu.RUnlock()

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		available = make(map[models.TransportKind]bool, len(probes))
	)
	for kind, probe := range probes {
		waitGroup.Add(1)
		go func(kind models.TransportKind, probe Probe) {
			defer waitGroup.Done()

			if err := runProbe(ctx, s.timeout, probe); err != nil {
				log.Debug().Err(err).Str("transport", string(kind)).Msg("Transport unavailable")
				return
			}
			mu.Lock()
			available[kind] = true
			mu.Unlock()
		}(kind, probe)
	}
	waitGroup.Wait()

	detected := make([]models.TransportKind, 0, len(available))
	for _, kind := range models.TransportKinds {
		if available[kind] {
			detected = append(detected, kind)
		}
	}
	return detected
}

// runProbe bounds a probe by its timeout even if the probe ignores ctx.
func runProbe(ctx context.Context, timeout time.Duration, probe Probe) (err error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		result <- probe(probeCtx)
	}()

	select {
	case err = <-result:
		return err
	case <-probeCtx.Done():
		return probeCtx.Err()
	}
}

// SelectBest returns the first kind in preference order that Detect finds.
func (s *Selector) SelectBest(ctx context.Context, preference []models.TransportKind) (models.TransportKind, error) {
	detected := s.Detect(ctx)
	available := make(map[models.TransportKind]bool, len(detected))
	for _, kind := range detected {
		available[kind] = true
	}

	for _, kind := range preference {
		if available[kind] {
			log.Info().Str("transport", string(kind)).Msg("Transport selected")
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: preference %v, detected %v", ErrNoTransportAvailable, preference, detected)
}

// HTTPProbe succeeds when GET url answers with a non-5xx status. It shares
// the mesh client settings, so a failing endpoint is asked exactly once.
func HTTPProbe(url string) Probe {
	client := CreateClient()
	return func(ctx context.Context) error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Str("url", url).Msg("Failed to close probe response body")
			}
		}()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s returned status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// DialProbe succeeds when a connection to addr can be opened. NNG style
// "tcp://host:port" addresses are accepted.
func DialProbe(network, addr string) Probe {
	return func(ctx context.Context) error {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, strings.TrimPrefix(addr, network+"://"))
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// DeviceProbe succeeds when the radio modem device node exists and is not a directory.
func DeviceProbe(path string) Probe {
	return func(_ context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		return nil
	}
}
