package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"guidechat/types"
)

// Client talks to the conversation backend's REST API. The message stream
// has its own transport; everything here is plain request/response.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchDocuments lists the selectable documents. An empty ids slice fetches
// everything.
func (c *Client) FetchDocuments(ctx context.Context, ids []uuid.UUID) ([]types.Document, error) {
	endpoint := c.baseURL + "/api/document/"
	if len(ids) > 0 {
		q := url.Values{}
		for _, id := range ids {
			q.Add("document_ids", id.String())
		}
		endpoint += "?" + q.Encode()
	}

	var docs []types.Document
	if err := c.getJSON(ctx, endpoint, &docs); err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	return docs, nil
}

// FetchConversation retrieves the conversation with its full transcript and
// document set, the one-shot hydration fetch.
func (c *Client) FetchConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error) {
	endpoint := fmt.Sprintf("%s/api/conversation/%s", c.baseURL, id)

	conv := &types.Conversation{}
	if err := c.getJSON(ctx, endpoint, conv); err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", id, err)
	}
	return conv, nil
}

// CreateConversation registers a conversation over the given documents and
// returns its hydrated record. Submitting zero document ids is a caller-side
// precondition failure; it never reaches the backend.
func (c *Client) CreateConversation(ctx context.Context, documentIDs []uuid.UUID) (*types.Conversation, error) {
	if len(documentIDs) == 0 {
		return nil, fmt.Errorf("conversation needs at least one document")
	}

	payload, err := json.Marshal(map[string][]uuid.UUID{"document_ids": documentIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/conversation/", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("backend API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	conv := &types.Conversation{}
	if err := json.NewDecoder(resp.Body).Decode(conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return conv, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
