package browser

import (
	"fmt"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/engine/memory"
	"github.com/codefionn/ryxsurf/internal/engine/playwright"
)

// newEngine builds the rendering engine named in cfg. Engine callbacks are
// delivered through dispatch.
func newEngine(cfg *config.Config, dispatch engine.Dispatcher) (engine.Engine, error) {
	switch cfg.Engine {
	case config.EngineMemory, "":
		return memory.New(), nil
	case config.EngineChromium:
		return playwright.New(playwright.Options{
			Headless: cfg.Headless,
			Install:  true,
			Dispatch: dispatch,
		})
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}
