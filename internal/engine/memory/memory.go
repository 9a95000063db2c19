// Package memory implements an in-process rendering engine. It never touches
// the network and is used for headless runs and tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"

	"github.com/codefionn/ryxsurf/internal/engine"
)

// ErrCreateFailed is the default error injected by FailCreate.
var ErrCreateFailed = errors.New("memory engine: create failed")

// Engine hands out memory Views.
type Engine struct {
	mu        sync.Mutex
	views     []*View
	createErr error
	loadErr   error
	closed    bool
	nextID    int
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "memory" }

// FailCreate makes subsequent Create calls return err. Pass nil to recover.
func (e *Engine) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

// FailLoad makes Load on views created afterwards return err.
func (e *Engine) FailLoad(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadErr = err
}

// Create implements engine.Engine.
func (e *Engine) Create(settings engine.Settings) (engine.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrEngineClosed
	}
	if e.createErr != nil {
		return nil, e.createErr
	}

	e.nextID++
	v := &View{
		id:        e.nextID,
		settings:  settings,
		url:       engine.BlankURL,
		loadErr:   e.loadErr,
		observers: make(map[int]func(string)),
	}
	e.views = append(e.views, v)
	return v, nil
}

// Close releases every view still alive.
func (e *Engine) Close() error {
	e.mu.Lock()
	views := append([]*View(nil), e.views...)
	e.closed = true
	e.mu.Unlock()

	for _, v := range views {
		_ = v.Close()
	}
	return nil
}

// Views returns every view ever created, oldest first.
func (e *Engine) Views() []*View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*View(nil), e.views...)
}

// Live returns the number of views not yet closed.
func (e *Engine) Live() int {
	e.mu.Lock()
	views := append([]*View(nil), e.views...)
	e.mu.Unlock()

	n := 0
	for _, v := range views {
		if !v.Closed() {
			n++
		}
	}
	return n
}

// View is an in-memory engine.View.
type View struct {
	mu        sync.Mutex
	id        int
	settings  engine.Settings
	url       string
	title     string
	history   []string
	container engine.Container
	closed    bool
	loadErr   error
	observers map[int]func(string)
	nextObs   int
}

// ID is the creation ordinal of the view.
func (v *View) ID() int { return v.id }

// Settings returns the settings the view was created with.
func (v *View) Settings() engine.Settings {
	return v.settings
}

// Load implements engine.View.
func (v *View) Load(url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return engine.ErrViewClosed
	}
	if v.loadErr != nil {
		return fmt.Errorf("load %s: %w", url, v.loadErr)
	}
	v.url = url
	v.history = append(v.history, url)
	return nil
}

// Navigate simulates in-page navigation that changes the URL without Load.
func (v *View) Navigate(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.url = url
	v.history = append(v.history, url)
}

// History lists every URL the view has shown.
func (v *View) History() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.history...)
}

// CurrentURL implements engine.View.
func (v *View) CurrentURL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.url
}

// Title implements engine.View.
func (v *View) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title
}

// SetTitle changes the page title and notifies observers synchronously.
func (v *View) SetTitle(title string) {
	v.mu.Lock()
	v.title = title
	ids := make([]int, 0, len(v.observers))
	for id := range v.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, v.observers[id])
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(title)
	}
}

// Observers returns the number of registered title observers.
func (v *View) Observers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observers)
}

// OnTitleChanged implements engine.View.
func (v *View) OnTitleChanged(fn func(string)) func() {
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

// Attach implements engine.View.
func (v *View) Attach(c engine.Container) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return engine.ErrViewClosed
	}
	v.container = c
	return nil
}

// Detach implements engine.View.
func (v *View) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.container = nil
}

// Attached reports whether the view is parented into a container.
func (v *View) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.container != nil
}

// Close implements engine.View. Closing twice is a no-op.
func (v *View) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.container = nil
	return nil
}

// Closed reports whether Close has been called.
func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Screenshot implements engine.Capturer with a 1x1 PNG.
func (v *View) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.Closed() {
		return nil, engine.ErrViewClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: uint8(v.id), A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.View     = (*View)(nil)
	_ engine.Capturer = (*View)(nil)
)
