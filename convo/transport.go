package convo

import (
	"context"

	"github.com/google/uuid"

	"guidechat/stream"
)

type sseTransport struct {
	client *stream.Client
}

// NewSSETransport adapts the SSE client to the Transport the reconciler
// consumes.
func NewSSETransport(client *stream.Client) Transport {
	return sseTransport{client: client}
}

func (t sseTransport) OpenMessageStream(ctx context.Context, conversationID uuid.UUID, userMessage string) (MessageStream, error) {
	s, err := t.client.OpenMessageStream(ctx, conversationID, userMessage)
	if err != nil {
		return nil, err
	}
	return s, nil
}
