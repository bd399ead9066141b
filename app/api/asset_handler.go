package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"guidechat/backend"
	"guidechat/render"
)

// maxAssetSize bounds a proxied document binary (64 MiB).
const maxAssetSize = 64 << 20

// AssetHandler serves document binaries through the gateway. The stored
// location is rewritten through the configured proxy base before fetching,
// so development environments reach storage through the gateway address.
type AssetHandler struct {
	source     DocumentSource
	proxyBase  string
	httpClient *http.Client
}

func NewAssetHandler(source DocumentSource, proxyBase string) *AssetHandler {
	return &AssetHandler{
		source:    source,
		proxyBase: proxyBase,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (h *AssetHandler) HandleGetAsset(c *fiber.Ctx) error {
	data, err := h.fetch(c)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	return c.Send(data)
}

// HandleGetLayout reports the page count and native page dimensions the
// viewer needs to size its viewport.
func (h *AssetHandler) HandleGetLayout(c *fiber.Ctx) error {
	data, err := h.fetch(c)
	if err != nil {
		return err
	}
	layout, err := render.Inspect(data)
	if err != nil {
		return NewError(fiber.StatusUnprocessableEntity, fmt.Sprintf("failed to inspect document: %v", err))
	}
	return c.JSON(layout)
}

func (h *AssetHandler) fetch(c *fiber.Ctx) ([]byte, error) {
	documentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, ErrInvalidID()
	}

	docs, err := h.source.FetchDocuments(c.Context(), []uuid.UUID{documentID})
	if err != nil {
		return nil, ErrUpstreamUnavailable(err.Error())
	}
	if len(docs) == 0 {
		return nil, ErrNotFound(documentID, "document")
	}

	location := backend.ResolveAssetURL(docs[0].URL, h.proxyBase)
	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, location, nil)
	if err != nil {
		return nil, ErrUpstreamUnavailable(fmt.Sprintf("failed to build asset request: %v", err))
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, ErrUpstreamUnavailable(fmt.Sprintf("failed to fetch asset: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrUpstreamUnavailable(fmt.Sprintf("asset fetch returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, ErrUpstreamUnavailable(fmt.Sprintf("failed to read asset: %v", err))
	}
	return data, nil
}
