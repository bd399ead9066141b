package convo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidechat/types"
)

type fakeStream struct {
	events chan types.Message
	err    error

	mu         sync.Mutex
	closeCalls int
	closeOnce  sync.Once
}

func newFakeStream(buffered int) *fakeStream {
	return &fakeStream{events: make(chan types.Message, buffered)}
}

func (f *fakeStream) Events() <-chan types.Message { return f.events }

func (f *fakeStream) Err() error { return f.err }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeStream) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls > 0
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	opened  int
}

func (t *fakeTransport) OpenMessageStream(ctx context.Context, conversationID uuid.UUID, userMessage string) (MessageStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened >= len(t.streams) {
		return nil, context.DeadlineExceeded
	}
	s := t.streams[t.opened]
	t.opened++
	return s, nil
}

// drain collects every update of a turn and signals when the turn ends.
// Read the collected messages only after done fires.
func drain(updates <-chan types.Message) (func() []types.Message, <-chan struct{}) {
	var (
		mu   sync.Mutex
		out  []types.Message
		done = make(chan struct{})
	)
	go func() {
		for msg := range updates {
			mu.Lock()
			out = append(out, msg)
			mu.Unlock()
		}
		close(done)
	}()
	return func() []types.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.Message(nil), out...)
	}, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish")
	}
}

func snapshot(convoID, msgID uuid.UUID, status types.MessageStatus, content string, subs []types.SubProcess) types.Message {
	return types.Message{
		ID:             msgID,
		ConversationID: convoID,
		Role:           types.RoleAssistant,
		Content:        content,
		Status:         status,
		SubProcesses:   subs,
	}
}

func TestTranscriptAppendOnlyByIdentity(t *testing.T) {
	convoID := uuid.New()
	m1, m2 := uuid.New(), uuid.New()

	s := newFakeStream(10)
	s.events <- snapshot(convoID, m1, types.StatusPending, "", nil)
	s.events <- snapshot(convoID, m2, types.StatusPending, "", nil)
	s.events <- snapshot(convoID, m1, types.StatusPending, "partial answer", nil)
	s.events <- snapshot(convoID, m1, types.StatusSuccess, "full answer", nil)

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s}}, nil)
	updates, err := rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
	_, done := drain(updates)
	waitDone(t, done)

	msgs := rec.Messages()
	require.Len(t, msgs, 3, "user message plus one per distinct event id")
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, m1, msgs[1].ID, "m1 keeps the position of its first occurrence")
	assert.Equal(t, m2, msgs[2].ID)
	assert.Equal(t, "full answer", msgs[1].Content)
	assert.Equal(t, types.StatusSuccess, msgs[1].Status)
}

func TestTerminalStatusClosesStreamOnce(t *testing.T) {
	convoID := uuid.New()
	m1 := uuid.New()

	s := newFakeStream(10)
	s.events <- snapshot(convoID, m1, types.StatusPending, "", nil)
	s.events <- snapshot(convoID, m1, types.StatusSuccess, "answer", nil)
	// trailing event on the same connection, after the terminal status
	s.events <- snapshot(convoID, m1, types.StatusPending, "late overwrite", nil)

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s}}, nil)
	updates, err := rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
	_, done := drain(updates)
	waitDone(t, done)

	assert.True(t, s.closed())
	assert.Equal(t, StateTerminal, rec.State())

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content, "events after terminal do not mutate the transcript")
	assert.Equal(t, types.StatusSuccess, msgs[1].Status)
}

func TestSingleFlightPerConversation(t *testing.T) {
	convoID := uuid.New()
	s := newFakeStream(1)

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s, newFakeStream(0)}}, nil)
	updates, err := rec.StartTurn(context.Background(), "first")
	require.NoError(t, err)

	_, err = rec.StartTurn(context.Background(), "second")
	assert.ErrorIs(t, err, ErrStreamActive)
	assert.Equal(t, 1, rec.Len(), "rejected turn appends nothing")

	s.events <- snapshot(convoID, uuid.New(), types.StatusSuccess, "done", nil)
	_, done := drain(updates)
	waitDone(t, done)

	// terminal state reached, a new turn may start
	_, err = rec.StartTurn(context.Background(), "second")
	require.NoError(t, err)
}

func TestCancelStopsMutation(t *testing.T) {
	convoID := uuid.New()
	m1 := uuid.New()

	s := newFakeStream(10)
	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s}}, nil)
	updates, err := rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
	_, done := drain(updates)

	s.events <- snapshot(convoID, m1, types.StatusPending, "partial", nil)
	require.Eventually(t, func() bool { return rec.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	rec.Cancel()
	waitDone(t, done)

	assert.True(t, s.closed())
	assert.Equal(t, StateCancelled, rec.State())
	require.NoError(t, rec.Err(), "cancellation is not an error")

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.StatusPending, msgs[1].Status, "partial message keeps its last status")
}

func TestStaleConversationEventsDiscarded(t *testing.T) {
	convoID := uuid.New()
	other := uuid.New()

	s := newFakeStream(10)
	s.events <- snapshot(other, uuid.New(), types.StatusPending, "stale", nil)
	s.events <- snapshot(convoID, uuid.New(), types.StatusSuccess, "mine", nil)

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s}}, nil)
	updates, err := rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
	got, done := drain(updates)
	waitDone(t, done)

	require.Len(t, rec.Messages(), 2)
	require.Len(t, got(), 1)
	assert.Equal(t, "mine", got()[0].Content)
}

func TestInterruptedStreamLeavesPendingAndAllowsRetry(t *testing.T) {
	convoID := uuid.New()
	m1 := uuid.New()

	s := newFakeStream(10)
	s.events <- snapshot(convoID, m1, types.StatusPending, "partial", nil)
	s.err = context.DeadlineExceeded
	s.Close() // connection drops before a terminal status

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s, newFakeStream(0)}}, nil)
	updates, err := rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
	_, done := drain(updates)
	waitDone(t, done)

	assert.Equal(t, StateIdle, rec.State())
	assert.Error(t, rec.Err())
	msgs := rec.Messages()
	assert.Equal(t, types.StatusPending, msgs[1].Status)

	// retry is allowed
	_, err = rec.StartTurn(context.Background(), "question")
	require.NoError(t, err)
}

func TestSubProcessMergeUpdateInPlaceAndAppend(t *testing.T) {
	spA, spB := uuid.New(), uuid.New()

	merged := mergeSubProcesses(
		[]types.SubProcess{{ID: &spA, Content: "x"}},
		[]types.SubProcess{{ID: &spA, Content: "y"}, {ID: &spB, Content: "z"}},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, spA, *merged[0].ID)
	assert.Equal(t, "y", merged[0].Content)
	assert.Equal(t, spB, *merged[1].ID)
	assert.Equal(t, "z", merged[1].Content)
}

func TestSubProcessMergeNeverDropsRecordedEntries(t *testing.T) {
	spA, spB := uuid.New(), uuid.New()

	// later snapshot carries fewer entries than already recorded
	merged := mergeSubProcesses(
		[]types.SubProcess{{ID: &spA, Content: "x"}, {ID: &spB, Content: "z"}},
		[]types.SubProcess{{ID: &spB, Content: "z2"}},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, "x", merged[0].Content)
	assert.Equal(t, "z2", merged[1].Content)
}

func TestSubProcessMergeNilIDsAppendOnly(t *testing.T) {
	merged := mergeSubProcesses(
		[]types.SubProcess{{Content: "in flight"}},
		[]types.SubProcess{{Content: "another"}},
	)
	require.Len(t, merged, 2)
}

func TestSubProcessMergeThroughEventFlow(t *testing.T) {
	convoID := uuid.New()
	m1 := uuid.New()
	sp1 := uuid.New()

	s := newFakeStream(10)
	s.events <- snapshot(convoID, m1, types.StatusPending, "",
		[]types.SubProcess{{Content: "Starting to process user message"}})
	s.events <- snapshot(convoID, m1, types.StatusSuccess, "IV fluids and antibiotics",
		[]types.SubProcess{{ID: &sp1, Content: "Starting to process user message"}})

	rec := NewReconciler(convoID, &fakeTransport{streams: []*fakeStream{s}}, nil)
	updates, err := rec.StartTurn(context.Background(), "What is first-line treatment?")
	require.NoError(t, err)
	_, done := drain(updates)
	waitDone(t, done)

	msgs := rec.Messages()
	require.Len(t, msgs, 2, "transcript length stays one per identity")
	assert.Equal(t, "IV fluids and antibiotics", msgs[1].Content)
	require.Len(t, msgs[1].SubProcesses, 2, "in-flight entry is retained, identified entry appends")
	assert.Nil(t, msgs[1].SubProcesses[0].ID)
	assert.Equal(t, sp1, *msgs[1].SubProcesses[1].ID)
}

func TestHydratePopulatesTranscript(t *testing.T) {
	convoID := uuid.New()
	rec := NewReconciler(convoID, &fakeTransport{}, nil)

	rec.Hydrate([]types.Message{
		snapshot(convoID, uuid.New(), types.StatusSuccess, "earlier question", nil),
		snapshot(convoID, uuid.New(), types.StatusSuccess, "earlier answer", nil),
	})

	assert.Equal(t, 2, rec.Len())
	assert.Equal(t, StateIdle, rec.State())
}
