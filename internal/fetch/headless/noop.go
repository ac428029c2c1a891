package headless

import (
	"context"
	"errors"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Noop implements scraper.Renderer but always fails, for builds and
// deployments where headless browsing is disabled.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) Render(context.Context, string) (scraper.RenderResult, error) {
	return scraper.RenderResult{}, errors.New("headless rendering not configured")
}

func (Noop) Close() error { return nil }
