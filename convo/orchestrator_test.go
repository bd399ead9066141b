package convo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidechat/types"
	"guidechat/viewport"
)

type fakeHydrator struct {
	conversations map[uuid.UUID]*types.Conversation
	err           error
	calls         int
}

func (f *fakeHydrator) FetchConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	conv, ok := f.conversations[id]
	if !ok {
		return nil, errors.New("conversation not found")
	}
	return conv, nil
}

func newOrchestratorFixture(t *testing.T, docs []types.Document, fakes ...*fakeStream) (*Orchestrator, uuid.UUID, *viewport.Registry) {
	t.Helper()
	convoID := uuid.New()
	hydrator := &fakeHydrator{conversations: map[uuid.UUID]*types.Conversation{
		convoID: {ID: convoID, Documents: docs},
	}}
	viewports := viewport.NewRegistry(viewport.Options{})
	o := NewOrchestrator(hydrator, &fakeTransport{streams: fakes}, viewports, nil)
	require.NoError(t, o.Open(context.Background(), convoID))
	return o, convoID, viewports
}

func TestOpenHydratesOnceAndActivatesViewports(t *testing.T) {
	convoID := uuid.New()
	docID := uuid.New()
	hydrator := &fakeHydrator{conversations: map[uuid.UUID]*types.Conversation{
		convoID: {
			ID:        convoID,
			Messages:  []types.Message{{ID: uuid.New(), ConversationID: convoID, Role: types.RoleUser, Content: "hi", Status: types.StatusSuccess}},
			Documents: []types.Document{{ID: docID}},
		},
	}}
	viewports := viewport.NewRegistry(viewport.Options{})
	o := NewOrchestrator(hydrator, &fakeTransport{}, viewports, nil)

	require.NoError(t, o.Open(context.Background(), convoID))

	assert.Equal(t, 1, hydrator.calls)
	assert.Equal(t, 1, o.Reconciler().Len())
	assert.NotNil(t, viewports.Get(docID), "each associated document gets a viewport")
}

func TestOpenFetchFailureLeavesOrchestratorUnbound(t *testing.T) {
	hydrator := &fakeHydrator{err: errors.New("backend unavailable")}
	o := NewOrchestrator(hydrator, &fakeTransport{}, viewport.NewRegistry(viewport.Options{}), nil)

	err := o.Open(context.Background(), uuid.New())
	require.Error(t, err)

	_, err = o.Submit(context.Background(), "question")
	assert.ErrorIs(t, err, ErrNotHydrated)
}

func TestSubmitWithoutDocumentsIsLocalNoOp(t *testing.T) {
	o, _, _ := newOrchestratorFixture(t, nil)

	_, err := o.Submit(context.Background(), "question")
	assert.ErrorIs(t, err, ErrNoDocuments)
	assert.Equal(t, 0, o.Reconciler().Len(), "no state corruption")
}

func TestTerminalCitationMovesViewportFocus(t *testing.T) {
	docID := uuid.New()
	convoFixtureDocs := []types.Document{{ID: docID}}

	s := newFakeStream(10)
	o, convoID, viewports := newOrchestratorFixture(t, convoFixtureDocs, s)

	vc := viewports.Get(docID)
	require.NotNil(t, vc)
	vc.SetPageCount(30)

	msgID := uuid.New()
	s.events <- types.Message{
		ID:             msgID,
		ConversationID: convoID,
		Role:           types.RoleAssistant,
		Content:        "See the fluid resuscitation section.",
		Status:         types.StatusSuccess,
		SubProcesses: []types.SubProcess{{
			Source: types.SourceSynthesize,
			Metadata: map[string]interface{}{
				types.SubProcessMetaSubQuestion: map[string]interface{}{
					"question": "What is first-line treatment?",
					"answer":   "IV fluids and antibiotics",
					"citations": []interface{}{
						map[string]interface{}{
							"document_id": docID.String(),
							"text":        "Administer 30 mL/kg crystalloid",
							"page_number": float64(12),
						},
					},
				},
			},
		}},
	}

	updates, err := o.Submit(context.Background(), "What is first-line treatment?")
	require.NoError(t, err)
	for range updates {
	}

	assert.Equal(t, 11, vc.Page(), "1-based citation page maps to 0-based viewport page")
	assert.Equal(t, "Administer 30 mL/kg crystalloid", vc.Highlighted())
}

func TestSwitchConversationCancelsOpenStream(t *testing.T) {
	s := newFakeStream(10)
	o, _, _ := newOrchestratorFixture(t, []types.Document{{ID: uuid.New()}}, s)

	updates, err := o.Submit(context.Background(), "question")
	require.NoError(t, err)
	go func() {
		for range updates {
		}
	}()

	next := uuid.New()
	hydrator := o.hydrator.(*fakeHydrator)
	hydrator.conversations[next] = &types.Conversation{ID: next}

	require.NoError(t, o.SwitchConversation(context.Background(), next))

	assert.True(t, s.closed(), "prior stream is closed on conversation change")
	assert.Equal(t, next, o.Reconciler().ConversationID())
}

func TestSubmitWhileStreamingRejected(t *testing.T) {
	s := newFakeStream(10)
	o, convoID, _ := newOrchestratorFixture(t, []types.Document{{ID: uuid.New()}}, s)

	updates, err := o.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrStreamActive)

	s.events <- types.Message{
		ID:             uuid.New(),
		ConversationID: convoID,
		Role:           types.RoleAssistant,
		Status:         types.StatusSuccess,
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("turn did not finish")
		}
	}
}
