package api

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidechat/convo"
	"guidechat/viewport"
)

// SessionManager holds one orchestrator per open conversation for the
// lifetime of the process. Sessions are created on first touch and
// hydrated exactly once.
type SessionManager struct {
	mu sync.Mutex

	hydrator  convo.Hydrator
	transport convo.Transport
	viewports *viewport.Registry
	log       *zap.Logger

	sessions map[uuid.UUID]*convo.Orchestrator
}

func NewSessionManager(hydrator convo.Hydrator, transport convo.Transport, viewports *viewport.Registry, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		hydrator:  hydrator,
		transport: transport,
		viewports: viewports,
		log:       log,
		sessions:  make(map[uuid.UUID]*convo.Orchestrator),
	}
}

// Open returns the orchestrator for the conversation, hydrating it on
// first access.
func (m *SessionManager) Open(ctx context.Context, conversationID uuid.UUID) (*convo.Orchestrator, error) {
	m.mu.Lock()
	if o, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return o, nil
	}
	m.mu.Unlock()

	o := convo.NewOrchestrator(m.hydrator, m.transport, m.viewports, m.log)
	if err := o.Open(ctx, conversationID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[conversationID]; ok {
		// lost the race, keep the first hydration
		return existing, nil
	}
	m.sessions[conversationID] = o
	return o, nil
}

// Drop cancels any open stream and forgets the session.
func (m *SessionManager) Drop(conversationID uuid.UUID) {
	m.mu.Lock()
	o, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if ok {
		o.Cancel()
	}
}

// Viewports exposes the shared per-document viewport registry.
func (m *SessionManager) Viewports() *viewport.Registry {
	return m.viewports
}
