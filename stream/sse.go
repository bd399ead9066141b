package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"guidechat/types"
)

// maxEventSize bounds a single SSE payload; a snapshot larger than this is
// a protocol violation, not a message worth buffering.
const maxEventSize = 1 << 20

// Client opens server-sent message streams against the backend chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: the stream stays open for the whole turn.
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// OpenMessageStream starts the user turn for conversationID and returns the
// live event stream. Each event payload is a full JSON Message snapshot.
func (c *Client) OpenMessageStream(ctx context.Context, conversationID uuid.UUID, userMessage string) (*Stream, error) {
	endpoint := fmt.Sprintf("%s/api/conversation/%s/message?user_message=%s",
		c.baseURL, conversationID, url.QueryEscape(userMessage))

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open message stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("message stream rejected: status %d, body: %s", resp.StatusCode, string(body))
	}

	s := &Stream{
		body:   resp.Body,
		cancel: cancel,
		events: make(chan types.Message),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

// Stream is one open server-sent event connection. Events are delivered in
// arrival order on Events; the channel closes when the connection ends.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc

	events chan types.Message
	done   chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *Stream) Events() <-chan types.Message { return s.events }

// Err reports why the stream ended, nil on a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the underlying connection. Safe to call more than once;
// only the first call has effect.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.body.Close()
	})
	return nil
}

func (s *Stream) read() {
	defer close(s.events)
	defer s.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data bytes.Buffer
	flush := func() bool {
		if data.Len() == 0 {
			return true
		}
		payload := data.Bytes()
		data = bytes.Buffer{}

		var msg types.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.fail(fmt.Errorf("failed to decode stream event: %w", err))
			return false
		}
		select {
		case s.events <- msg:
			return true
		case <-s.done:
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry: fields and ":" comments carry nothing here
		}
	}
	// A snapshot not followed by a blank line before EOF still counts.
	flush()

	if err := scanner.Err(); err != nil && !errIsClosed(err) {
		s.fail(fmt.Errorf("message stream interrupted: %w", err))
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func errIsClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return errors.Is(err, context.Canceled) ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "http: read on closed response body")
}
