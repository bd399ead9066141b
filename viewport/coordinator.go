package viewport

import (
	"sync"

	"github.com/google/uuid"
)

const (
	DefaultMinScale = 0.5
	DefaultMaxScale = 3.0
	DefaultZoomStep = 1.25
	DefaultScale    = 1.0
)

// FocusHandle is the narrow capability exposed to components outside the
// one that owns display: they may move the viewer or highlight a passage,
// nothing else. The Coordinator stays the sole writer of viewport state.
type FocusHandle interface {
	GoToPage(page int)
	Highlight(text string)
}

type Options struct {
	MinScale float64
	MaxScale float64
	ZoomStep float64
}

func (o Options) withDefaults() Options {
	if o.MinScale <= 0 {
		o.MinScale = DefaultMinScale
	}
	if o.MaxScale <= 0 {
		o.MaxScale = DefaultMaxScale
	}
	if o.ZoomStep <= 1 {
		o.ZoomStep = DefaultZoomStep
	}
	return o
}

// Coordinator owns the viewer state for one active document: current page,
// zoom scale, fit mode and total page count. It has no terminal state; the
// rendering surface feeds it page count and dimension reports, everything
// else arrives through its public operations.
type Coordinator struct {
	mu sync.Mutex

	docID uuid.UUID
	opts  Options

	page     int
	numPages int // 0 until the rendering surface reports it

	scale float64
	fit   bool

	pendingPage int
	hasPending  bool

	containerWidth float64
	pageWidth      float64
	pageHeight     float64

	highlight string
}

func NewCoordinator(docID uuid.UUID, opts Options) *Coordinator {
	return &Coordinator{
		docID: docID,
		opts:  opts.withDefaults(),
		scale: DefaultScale,
		fit:   true,
	}
}

func (c *Coordinator) DocumentID() uuid.UUID { return c.docID }

// SetPageCount records the total page count once the rendering surface
// reports it, clamps the current page into range and applies an earlier
// queued GoToPage request.
func (c *Coordinator) SetPageCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 {
		return
	}
	c.numPages = n
	c.page = clampPage(c.page, n)
	if c.hasPending {
		c.page = clampPage(c.pendingPage, n)
		c.hasPending = false
	}
}

// GoToPage moves to page i, clamped into [0, numPages-1]. While the page
// count is unknown the request is queued; only the latest queued request
// is retained.
func (c *Coordinator) GoToPage(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.numPages == 0 {
		c.pendingPage = i
		c.hasPending = true
		return
	}
	c.page = clampPage(i, c.numPages)
}

// NextPage advances by one page, no-op at the last page or while the page
// count is unknown.
func (c *Coordinator) NextPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.numPages == 0 || c.page >= c.numPages-1 {
		return
	}
	c.page++
}

// PrevPage moves back by one page, no-op at page 0.
func (c *Coordinator) PrevPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page <= 0 {
		return
	}
	c.page--
}

// SetVisiblePage records the page index the rendering surface reports as
// currently visible from manual scrolling. This is a direct overwrite, not
// a conflicting write against programmatic navigation.
func (c *Coordinator) SetVisiblePage(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = i
}

// ZoomIn multiplies the scale by the step factor, clamped to the max.
// Explicit zoom leaves fit mode: the scale stops tracking container size.
func (c *Coordinator) ZoomIn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scale >= c.opts.MaxScale {
		return
	}
	c.fit = false
	c.scale = clampScale(c.scale*c.opts.ZoomStep, c.opts)
}

// ZoomOut divides the scale by the step factor, clamped to the min.
func (c *Coordinator) ZoomOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scale <= c.opts.MinScale {
		return
	}
	c.fit = false
	c.scale = clampScale(c.scale/c.opts.ZoomStep, c.opts)
}

// SetZoomLevel sets the scale absolutely, with the same clamping.
func (c *Coordinator) SetZoomLevel(s float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fit = false
	c.scale = clampScale(s, c.opts)
}

// SetScaleFit toggles fit mode. Turning it on recomputes the scale from the
// reported container and page dimensions; turning it off freezes the
// current scale.
func (c *Coordinator) SetScaleFit(fit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fit = fit
	if fit {
		c.refitLocked()
	}
}

// SetContainerWidth records the rendering surface's container width and,
// in fit mode, retracks the scale.
func (c *Coordinator) SetContainerWidth(w float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containerWidth = w
	if c.fit {
		c.refitLocked()
	}
}

// SetPageSize records the native page dimensions reported by the rendering
// surface and, in fit mode, retracks the scale.
func (c *Coordinator) SetPageSize(w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageWidth = w
	c.pageHeight = h
	if c.fit {
		c.refitLocked()
	}
}

// Highlight records the passage the conversation layer wants emphasized.
func (c *Coordinator) Highlight(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.highlight = text
}

func (c *Coordinator) refitLocked() {
	if c.containerWidth <= 0 || c.pageWidth <= 0 {
		return
	}
	c.scale = clampScale(c.containerWidth/c.pageWidth, c.opts)
}

func (c *Coordinator) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Coordinator) NumPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numPages
}

func (c *Coordinator) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

func (c *Coordinator) FitMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fit
}

func (c *Coordinator) Highlighted() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlight
}

// ZoomInEnabled is false exactly at the max-scale clamp boundary.
func (c *Coordinator) ZoomInEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale < c.opts.MaxScale
}

// ZoomOutEnabled is false exactly at the min-scale clamp boundary.
func (c *Coordinator) ZoomOutEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale > c.opts.MinScale
}

func clampPage(i, numPages int) int {
	if i < 0 {
		return 0
	}
	if i > numPages-1 {
		return numPages - 1
	}
	return i
}

func clampScale(s float64, opts Options) float64 {
	if s < opts.MinScale {
		return opts.MinScale
	}
	if s > opts.MaxScale {
		return opts.MaxScale
	}
	return s
}
