package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"guidechat/convo"
	"guidechat/types"
)

// ConversationCreator registers a conversation with the backend.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, documentIDs []uuid.UUID) (*types.Conversation, error)
}

type ConversationHandler struct {
	creator  ConversationCreator
	sessions *SessionManager
}

func NewConversationHandler(creator ConversationCreator, sessions *SessionManager) *ConversationHandler {
	return &ConversationHandler{
		creator:  creator,
		sessions: sessions,
	}
}

func (h *ConversationHandler) HandleCreateConversation(c *fiber.Ctx) error {
	var params types.CreateConversationParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	ids := make([]uuid.UUID, 0, len(params.DocumentIDs))
	for _, raw := range params.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ErrInvalidID()
		}
		ids = append(ids, id)
	}

	conv, err := h.creator.CreateConversation(c.Context(), ids)
	if err != nil {
		return ErrUpstreamUnavailable(err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// HandleGetConversation hydrates the session and returns its transcript
// and document set.
func (h *ConversationHandler) HandleGetConversation(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	o, err := h.sessions.Open(c.Context(), conversationID)
	if err != nil {
		return ErrNotFound(conversationID, "conversation")
	}

	return c.JSON(types.Conversation{
		ID:        conversationID,
		Messages:  o.Reconciler().Messages(),
		Documents: o.Documents(),
	})
}

// HandleChat submits one user turn and relays the reconciled message
// snapshots to the caller as server-sent events.
func (h *ConversationHandler) HandleChat(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	params := types.ChatParams{UserMessage: c.Query("user_message")}
	if errs := types.Validate(&params); len(errs) > 0 {
		return types.NewValidationError(errs)
	}

	o, err := h.sessions.Open(c.Context(), conversationID)
	if err != nil {
		return ErrNotFound(conversationID, "conversation")
	}

	// The relay outlives this handler's request context: fiber recycles
	// it once the stream writer takes over.
	updates, err := o.Submit(context.Background(), params.UserMessage)
	if err != nil {
		switch {
		case errors.Is(err, convo.ErrStreamActive):
			return ErrStreamBusy()
		case errors.Is(err, convo.ErrNoDocuments):
			return NewError(fiber.StatusPreconditionFailed, err.Error())
		default:
			return ErrUpstreamUnavailable(err.Error())
		}
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for msg := range updates {
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			if err := w.Flush(); err != nil {
				// client went away; drain so the turn still completes
				for range updates {
				}
				return
			}
		}
	}))
	return nil
}
