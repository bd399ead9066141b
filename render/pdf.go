package render

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"guidechat/viewport"
)

// Layout is what the rendering surface reports about a document binary:
// total page count and the native size of the first page, in points
// (1 pt = 1/72 inch). The viewport derives fit-mode scale from these.
type Layout struct {
	PageCount  int     `json:"page_count"`
	PageWidth  float64 `json:"page_width"`
	PageHeight float64 `json:"page_height"`
}

// InspectFile reads the layout facts out of a PDF on disk.
func InspectFile(path string) (Layout, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read page count: %w", err)
	}

	dims, err := api.PageDimsFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read page dimensions: %w", err)
	}

	layout := Layout{PageCount: count}
	if len(dims) > 0 {
		layout.PageWidth = dims[0].Width
		layout.PageHeight = dims[0].Height
	}
	return layout, nil
}

// Inspect reads layout facts from an in-memory PDF, e.g. a proxied asset
// body. pdfcpu's inspection API is file based, so the bytes take a round
// trip through a temp file.
func Inspect(data []byte) (Layout, error) {
	tmp, err := os.CreateTemp("", "guidechat-*.pdf")
	if err != nil {
		return Layout{}, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Layout{}, err
	}
	if err := tmp.Close(); err != nil {
		return Layout{}, err
	}

	return InspectFile(tmp.Name())
}

// Apply feeds the layout into a viewport coordinator, the report path the
// coordinator expects from its rendering surface.
func (l Layout) Apply(c *viewport.Coordinator) {
	c.SetPageCount(l.PageCount)
	if l.PageWidth > 0 {
		c.SetPageSize(l.PageWidth, l.PageHeight)
	}
}
