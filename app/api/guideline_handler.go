package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"guidechat/guideline"
	"guidechat/types"
)

const documentsCacheKey = "documents"

// DocumentSource lists the selectable document records; either the
// upstream backend or the local catalog.
type DocumentSource interface {
	FetchDocuments(ctx context.Context, ids []uuid.UUID) ([]types.Document, error)
}

type GuidelineHandler struct {
	source DocumentSource
	cache  *gocache.Cache
}

func NewGuidelineHandler(source DocumentSource, ttl time.Duration) *GuidelineHandler {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GuidelineHandler{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// HandleListGuidelines returns the deduplicated guideline options the user
// can open a conversation about.
func (h *GuidelineHandler) HandleListGuidelines(c *fiber.Ctx) error {
	docs, err := h.documents(c.Context())
	if err != nil {
		return ErrUpstreamUnavailable(err.Error())
	}
	return c.JSON(guideline.Resolve(docs))
}

// HandleFilterGuidelines narrows documents by condition and guideline type.
// An empty condition yields the empty list, the defined unselected-state
// response.
func (h *GuidelineHandler) HandleFilterGuidelines(c *fiber.Ctx) error {
	var params types.GuidelineFilterParams
	if c.QueryParser(&params) != nil {
		return ErrBadRequest()
	}

	docs, err := h.documents(c.Context())
	if err != nil {
		return ErrUpstreamUnavailable(err.Error())
	}
	filtered := guideline.ByConditionAndType(params.Condition, params.Type, docs)
	return c.JSON(filtered)
}

func (h *GuidelineHandler) documents(ctx context.Context) ([]types.Document, error) {
	if cached, ok := h.cache.Get(documentsCacheKey); ok {
		return cached.([]types.Document), nil
	}
	docs, err := h.source.FetchDocuments(ctx, nil)
	if err != nil {
		return nil, err
	}
	h.cache.SetDefault(documentsCacheKey, docs)
	return docs, nil
}
