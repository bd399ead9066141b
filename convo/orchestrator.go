package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidechat/types"
	"guidechat/viewport"
)

// ErrNotHydrated is returned when a turn is submitted before the
// conversation has been opened and its transcript fetched.
var ErrNotHydrated = errors.New("conversation is not hydrated")

// Hydrator fetches the existing conversation once at open time.
type Hydrator interface {
	FetchConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error)
}

// Orchestrator binds one conversation to its document set, drives the
// reconciler's stream lifecycle per submitted turn, and relays citations on
// terminal assistant messages to the viewport layer through its narrow
// focus capability.
type Orchestrator struct {
	mu sync.Mutex

	hydrator  Hydrator
	transport Transport
	viewports *viewport.Registry
	log       *zap.Logger

	conversationID uuid.UUID
	documents      []types.Document
	rec            *Reconciler
}

func NewOrchestrator(hydrator Hydrator, transport Transport, viewports *viewport.Registry, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		hydrator:  hydrator,
		transport: transport,
		viewports: viewports,
		log:       log,
	}
}

// Open hydrates the conversation: one fetch of the existing transcript and
// document set before any turn may be submitted, and one viewport per
// associated document. A fetch failure leaves the orchestrator unbound; the
// caller redirects rather than showing a partially-initialized view.
func (o *Orchestrator) Open(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := o.hydrator.FetchConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to hydrate conversation %s: %w", conversationID, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversationID = conversationID
	o.documents = conv.Documents
	o.rec = NewReconciler(conversationID, o.transport, o.log)
	o.rec.Hydrate(conv.Messages)
	for _, doc := range conv.Documents {
		o.viewports.Activate(doc.ID)
	}
	o.log.Info("conversation opened",
		zap.String("conversation_id", conversationID.String()),
		zap.Int("messages", len(conv.Messages)),
		zap.Int("documents", len(conv.Documents)))
	return nil
}

// Reconciler exposes the transcript owner for read access.
func (o *Orchestrator) Reconciler() *Reconciler {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rec
}

// Documents returns the conversation's associated document set.
func (o *Orchestrator) Documents() []types.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Document, len(o.documents))
	copy(out, o.documents)
	return out
}

// Submit starts one user turn and returns the transcript updates for it.
// Submitting with no associated documents is a selection error handled
// locally: nothing is sent and no state changes.
func (o *Orchestrator) Submit(ctx context.Context, userMessage string) (<-chan types.Message, error) {
	o.mu.Lock()
	rec := o.rec
	hasDocs := len(o.documents) > 0
	o.mu.Unlock()

	if rec == nil {
		return nil, ErrNotHydrated
	}
	if !hasDocs {
		return nil, ErrNoDocuments
	}

	updates, err := rec.StartTurn(ctx, userMessage)
	if err != nil {
		return nil, err
	}

	out := make(chan types.Message)
	go func() {
		defer close(out)
		for msg := range updates {
			if msg.Status.Terminal() && msg.Role == types.RoleAssistant {
				o.focusCitation(msg)
			}
			out <- msg
		}
	}()
	return out, nil
}

// SwitchConversation cancels any open stream for the current conversation
// and hydrates the new one. Partial messages of the abandoned conversation
// keep their last status.
func (o *Orchestrator) SwitchConversation(ctx context.Context, newID uuid.UUID) error {
	o.Cancel()
	return o.Open(ctx, newID)
}

// Cancel closes the active turn's stream, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	rec := o.rec
	o.mu.Unlock()
	if rec != nil {
		rec.Cancel()
	}
}

// focusCitation moves the viewer to the first cited page of the terminal
// assistant message. Citation page numbers are 1-based on the wire.
func (o *Orchestrator) focusCitation(msg types.Message) {
	for _, c := range msg.Citations() {
		vc := o.viewports.Get(c.DocumentID)
		if vc == nil {
			continue
		}
		vc.GoToPage(c.PageNumber - 1)
		vc.Highlight(c.Text)
		o.log.Debug("focused citation",
			zap.String("document_id", c.DocumentID.String()),
			zap.Int("page_number", c.PageNumber))
		return
	}
}
