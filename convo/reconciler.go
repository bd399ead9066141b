package convo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidechat/types"
)

var (
	// ErrStreamActive is returned when a turn is submitted while the
	// conversation already has an open stream.
	ErrStreamActive = errors.New("a message stream is already open for this conversation")
	// ErrNoDocuments is the caller-side selection precondition failure.
	ErrNoDocuments = errors.New("no documents selected for this conversation")
)

// State is the stream lifecycle of the active turn.
// Idle -> Streaming -> (Terminal | Cancelled), then a new turn may start.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateTerminal
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateTerminal:
		return "terminal"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Transport opens the per-turn message event stream.
type Transport interface {
	OpenMessageStream(ctx context.Context, conversationID uuid.UUID, userMessage string) (MessageStream, error)
}

// MessageStream is one open connection delivering Message snapshots in
// arrival order. Close must be idempotent.
type MessageStream interface {
	Events() <-chan types.Message
	Err() error
	Close() error
}

// Reconciler owns the transcript of one conversation. It merges the
// incremental, potentially duplicated-by-identifier event stream into a
// stable ordered message list and drives the single-flight stream state
// machine. Nothing else writes to the transcript.
type Reconciler struct {
	mu sync.Mutex

	conversationID uuid.UUID
	transport      Transport
	log            *zap.Logger

	messages []types.Message
	index    map[uuid.UUID]int

	state   State
	active  MessageStream
	turnErr error
}

func NewReconciler(conversationID uuid.UUID, transport Transport, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		conversationID: conversationID,
		transport:      transport,
		log:            log.With(zap.String("conversation_id", conversationID.String())),
		index:          make(map[uuid.UUID]int),
	}
}

func (r *Reconciler) ConversationID() uuid.UUID { return r.conversationID }

// Hydrate loads the already-persisted transcript fetched at conversation
// open. It replaces nothing arriving later: hydration happens once, before
// any turn is submitted.
func (r *Reconciler) Hydrate(messages []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range messages {
		r.appendLocked(msg)
	}
}

// Messages returns a copy of the transcript in first-occurrence order.
func (r *Reconciler) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err reports why the last turn ended early, nil when it reached a
// terminal status or was cancelled on purpose.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnErr
}

// StartTurn appends the user message locally, opens the event stream for
// the turn and returns a channel of transcript updates. The channel closes
// when the turn reaches a terminal status, the stream drops, or the turn is
// cancelled. A second turn while one is streaming is rejected with
// ErrStreamActive and leaves all state untouched.
func (r *Reconciler) StartTurn(ctx context.Context, userMessage string) (<-chan types.Message, error) {
	r.mu.Lock()
	if r.state == StateStreaming {
		r.mu.Unlock()
		r.log.Warn("rejected turn: stream already open")
		return nil, ErrStreamActive
	}
	r.mu.Unlock()

	s, err := r.transport.OpenMessageStream(ctx, r.conversationID, userMessage)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state == StateStreaming {
		// Lost the race to another turn; drop this connection.
		r.mu.Unlock()
		s.Close()
		r.log.Warn("rejected turn: stream already open")
		return nil, ErrStreamActive
	}
	now := time.Now()
	r.appendLocked(types.Message{
		ID:             uuid.New(),
		ConversationID: r.conversationID,
		Role:           types.RoleUser,
		Content:        userMessage,
		Status:         types.StatusSuccess,
		CreatedAt:      &now,
		UpdatedAt:      &now,
	})
	r.state = StateStreaming
	r.active = s
	r.turnErr = nil
	r.mu.Unlock()

	updates := make(chan types.Message)
	go r.consume(s, updates)
	return updates, nil
}

// Cancel closes the open stream, if any. Partial messages already appended
// stay in the transcript with whatever status they last held.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	if r.state != StateStreaming {
		r.mu.Unlock()
		return
	}
	r.state = StateCancelled
	s := r.active
	r.active = nil
	r.mu.Unlock()

	s.Close()
	r.log.Info("stream cancelled")
}

func (r *Reconciler) consume(s MessageStream, updates chan<- types.Message) {
	defer close(updates)
	defer s.Close()

	for msg := range s.Events() {
		snapshot, applied := r.apply(msg)
		if !applied {
			continue
		}
		updates <- snapshot

		// Client-driven termination: the transport is not trusted to
		// signal end-of-stream, so terminal status releases the
		// connection here, exactly once.
		if msg.Status.Terminal() {
			r.mu.Lock()
			if r.state == StateStreaming {
				r.state = StateTerminal
				r.active = nil
			}
			r.mu.Unlock()
			return
		}
	}

	// Connection closed without a terminal status. The in-progress
	// message stays PENDING; the caller may retry the turn.
	r.mu.Lock()
	if r.state == StateStreaming {
		r.state = StateIdle
		r.active = nil
		r.turnErr = s.Err()
	}
	err := r.turnErr
	r.mu.Unlock()
	if err != nil {
		r.log.Warn("stream interrupted before terminal status", zap.Error(err))
	}
}

// apply merges one event snapshot into the transcript and returns the
// merged message. Events from a superseded conversation, or arriving after
// cancellation, are discarded silently.
func (r *Reconciler) apply(msg types.Message) (types.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ConversationID != r.conversationID {
		r.log.Debug("discarded stale event",
			zap.String("event_conversation_id", msg.ConversationID.String()))
		return types.Message{}, false
	}
	if r.state != StateStreaming {
		return types.Message{}, false
	}

	idx, ok := r.index[msg.ID]
	if !ok {
		r.appendLocked(msg)
		return msg, true
	}

	existing := &r.messages[idx]
	existing.Content = msg.Content
	existing.Status = msg.Status
	existing.UpdatedAt = msg.UpdatedAt
	if existing.CreatedAt == nil {
		existing.CreatedAt = msg.CreatedAt
	}
	existing.SubProcesses = mergeSubProcesses(existing.SubProcesses, msg.SubProcesses)
	return *existing, true
}

// appendLocked appends preserving first-occurrence order. A message whose
// id the server has not assigned yet cannot be correlated with later
// events, so it is indexed only once it carries a real id.
func (r *Reconciler) appendLocked(msg types.Message) {
	if _, ok := r.index[msg.ID]; ok && msg.ID != uuid.Nil {
		return
	}
	r.messages = append(r.messages, msg)
	if msg.ID != uuid.Nil {
		r.index[msg.ID] = len(r.messages) - 1
	}
}

// mergeSubProcesses applies the replace-by-id-else-append rule: an incoming
// entry matching an existing identifier updates that entry in place,
// everything else appends in arrival order. Entries already recorded are
// never dropped, even when the incoming snapshot carries fewer of them.
func mergeSubProcesses(existing, incoming []types.SubProcess) []types.SubProcess {
	byID := make(map[uuid.UUID]int, len(existing))
	for i, sp := range existing {
		if sp.ID != nil {
			byID[*sp.ID] = i
		}
	}

	for _, sp := range incoming {
		if sp.ID != nil {
			if i, ok := byID[*sp.ID]; ok {
				existing[i].Content = sp.Content
				existing[i].Source = sp.Source
				existing[i].Metadata = sp.Metadata
				continue
			}
			existing = append(existing, sp)
			byID[*sp.ID] = len(existing) - 1
			continue
		}
		existing = append(existing, sp)
	}
	return existing
}
