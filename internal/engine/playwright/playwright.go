// Package playwright adapts a headless Chromium driven by playwright-go to
// the engine contract.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/logger"
)

// Options configures the Chromium instance.
type Options struct {
	Headless bool
	// Install downloads the browser driver before starting.
	Install bool
	// Dispatch runs engine callbacks on the owning goroutine. Defaults to engine.Inline.
	Dispatch engine.Dispatcher
}

// Engine owns one Chromium process; every view is a separate browser context.
type Engine struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	dispatch engine.Dispatcher
	log      *logger.Logger

	mu     sync.Mutex
	closed bool
}

// New starts playwright and launches Chromium.
func New(opts Options) (*Engine, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     launchArgs(engine.MinimalSettings()),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	dispatch := opts.Dispatch
	if dispatch == nil {
		dispatch = engine.Inline
	}

	return &Engine{
		pw:       pw,
		browser:  browser,
		dispatch: dispatch,
		log:      logger.Global().WithPrefix("engine"),
	}, nil
}

func launchArgs(s engine.Settings) []string {
	var args []string
	if !s.EnablePlugins {
		args = append(args, "--disable-plugins")
	}
	if !s.EnableMediaStream {
		args = append(args, "--deny-permission-prompts")
	}
	return args
}

// disableMediaSource hides the MSE constructors from page scripts.
const disableMediaSource = `delete window.MediaSource; delete window.ManagedMediaSource; delete window.WebKitMediaSource;`

// Name implements engine.Engine.
func (e *Engine) Name() string { return "chromium" }

// Create implements engine.Engine.
func (e *Engine) Create(settings engine.Settings) (engine.View, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, engine.ErrEngineClosed
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if settings.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(settings.UserAgent)
	}
	bctx, err := e.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if !settings.EnableMediaSource {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(disableMediaSource)}); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to install init script: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	v := &view{
		ctx:       bctx,
		page:      page,
		dispatch:  e.dispatch,
		log:       e.log,
		observers: make(map[int]func(string)),
	}
	page.OnLoad(func(p playwright.Page) {
		title, err := p.Title()
		if err != nil {
			return
		}
		v.emitTitle(title)
	})
	return v, nil
}

// Close shuts down Chromium and the playwright driver.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := e.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

type view struct {
	ctx      playwright.BrowserContext
	page     playwright.Page
	dispatch engine.Dispatcher
	log      *logger.Logger

	mu        sync.Mutex
	title     string
	container engine.Container
	closed    bool
	observers map[int]func(string)
	nextObs   int
}

func (v *view) Load(url string) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return engine.ErrViewClosed
	}

	// Goto blocks until the load event; run it off the owning goroutine.
	go func() {
		if _, err := v.page.Goto(url); err != nil {
			v.log.Warn("navigation to %s failed: %v", url, err)
		}
	}()
	return nil
}

func (v *view) CurrentURL() string {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ""
	}
	return v.page.URL()
}

func (v *view) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title
}

func (v *view) emitTitle(title string) {
	v.dispatch(func() {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return
		}
		v.title = title
		fns := make([]func(string), 0, len(v.observers))
		for _, fn := range v.observers {
			fns = append(fns, fn)
		}
		v.mu.Unlock()

		for _, fn := range fns {
			fn(title)
		}
	})
}

func (v *view) OnTitleChanged(fn func(string)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextObs++
	id := v.nextObs
	v.observers[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.observers, id)
	}
}

func (v *view) Attach(c engine.Container) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return engine.ErrViewClosed
	}
	v.container = c
	return nil
}

func (v *view) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.container = nil
}

func (v *view) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.container = nil
	v.observers = map[int]func(string){}
	v.mu.Unlock()

	if err := v.page.Close(); err != nil {
		_ = v.ctx.Close()
		return fmt.Errorf("close page: %w", err)
	}
	return v.ctx.Close()
}

func (v *view) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng}
	if deadline, ok := ctx.Deadline(); ok {
		timeout := float64(time.Until(deadline).Milliseconds())
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
		opts.Timeout = &timeout
	}
	return v.page.Screenshot(opts)
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.View     = (*view)(nil)
	_ engine.Capturer = (*view)(nil)
)
