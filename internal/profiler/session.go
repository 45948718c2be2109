package profiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// Session is a profiling connection to a process.
type Session interface {
	// Start begins CPU sampling.
	Start(ctx context.Context) error
	// Stop ends sampling and returns the collected profile.
	Stop(ctx context.Context) (*profile.Profile, error)
	// Close releases the session. Sampling still in progress is discarded.
	Close() error
}

var (
	ErrSessionClosed  = errors.New("profiling session closed")
	ErrNotStarted     = errors.New("profiling not started")
	ErrAlreadyStarted = errors.New("profiling already started")
)

// Replaced in tests.
var (
	startCPUProfile = pprof.StartCPUProfile
	stopCPUProfile  = pprof.StopCPUProfile
)

// LocalSession profiles the current process. The Go runtime allows a single
// CPU profile at a time, so Start fails while another one is active.
type LocalSession struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	running bool
	closed  bool
}

// NewLocalSession returns a session for the calling process.
func NewLocalSession() *LocalSession {
	return &LocalSession{}
}

func (s *LocalSession) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.running {
		return ErrAlreadyStarted
	}
	s.buf.Reset()
	if err := startCPUProfile(&s.buf); err != nil {
		return fmt.Errorf("starting cpu profile: %w", err)
	}
	s.running = true
	return nil
}

func (s *LocalSession) Stop(context.Context) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.running {
		return nil, ErrNotStarted
	}
	stopCPUProfile()
	s.running = false

	p, err := profile.Parse(&s.buf)
	if err != nil {
		return nil, fmt.Errorf("parsing cpu profile: %w", err)
	}
	return p, nil
}

func (s *LocalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		stopCPUProfile()
		s.running = false
	}
	s.closed = true
	s.buf.Reset()
	return nil
}

// maxRemoteProfileSize bounds the response body read from a remote endpoint.
const maxRemoteProfileSize = 64 << 20

type remoteResult struct {
	data []byte
	err  error
}

// RemoteSession profiles another process through its net/http/pprof
// handler. Start issues GET {base}/debug/pprof/profile?seconds=N; the target
// samples for N seconds and Stop waits for the response.
type RemoteSession struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	result chan remoteResult
	cancel context.CancelFunc
	closed bool
}

// NewRemoteSession targets the pprof handler under baseURL and asks for a
// profile of the given duration, rounded up to whole seconds. A nil client
// uses http.DefaultClient.
func NewRemoteSession(baseURL string, duration time.Duration, client *http.Client) (*RemoteSession, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("profile url %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("profile url %q must include a host", baseURL)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("profile duration must be positive, got %s", duration)
	}
	if client == nil {
		client = http.DefaultClient
	}

	seconds := int(math.Ceil(duration.Seconds()))
	u.Path = strings.TrimSuffix(u.Path, "/") + "/debug/pprof/profile"
	u.RawQuery = url.Values{"seconds": {strconv.Itoa(seconds)}}.Encode()

	return &RemoteSession{
		endpoint: u.String(),
		client:   client,
	}, nil
}

// Endpoint returns the full profile URL.
func (s *RemoteSession) Endpoint() string {
	return s.endpoint
}

func (s *RemoteSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.result != nil {
		return ErrAlreadyStarted
	}

	// The request outlives Start; Close cancels it.
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("building profile request: %w", err)
	}

	result := make(chan remoteResult, 1)
	go func() {
		data, err := s.fetch(req)
		result <- remoteResult{data: data, err: err}
	}()

	s.result = result
	s.cancel = cancel
	return nil
}

func (s *RemoteSession) fetch(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteProfileSize))
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile endpoint returned %s: %s",
			resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (s *RemoteSession) Stop(ctx context.Context) (*profile.Profile, error) {
	s.mu.Lock()
	result := s.result
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrSessionClosed
	}
	if result == nil {
		return nil, ErrNotStarted
	}

	select {
	case r := <-result:
		s.mu.Lock()
		s.result = nil
		s.mu.Unlock()
		if r.err != nil {
			return nil, r.err
		}
		p, err := profile.ParseData(r.data)
		if err != nil {
			return nil, fmt.Errorf("parsing remote profile: %w", err)
		}
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for remote profile: %w", ctx.Err())
	}
}

func (s *RemoteSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.result = nil
	s.closed = true
	return nil
}
