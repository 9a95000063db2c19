// Package engine defines the contract between browsing contexts and the
// rendering engine that backs them.
package engine

import (
	"context"
	"errors"
	"sync"
)

// BlankURL is the placeholder page that is never navigated to explicitly.
const BlankURL = "about:blank"

var (
	// ErrViewClosed is returned by operations on a released view.
	ErrViewClosed = errors.New("view is closed")
	// ErrEngineClosed is returned when creating views after the engine shut down.
	ErrEngineClosed = errors.New("engine is closed")
)

// Settings configures a newly created view.
type Settings struct {
	EnablePlugins     bool
	EnableJava        bool
	EnableMediaStream bool
	EnableMediaSource bool
	UserAgent         string
}

// MinimalSettings returns the low-footprint profile every tab uses.
func MinimalSettings() Settings {
	return Settings{}
}

// Container is the UI slot a view is parented into.
type Container interface {
	ContainerID() string
}

// View is a live rendering resource.
type View interface {
	Load(url string) error
	CurrentURL() string
	Title() string
	// OnTitleChanged registers fn and returns a func that removes it.
	OnTitleChanged(fn func(title string)) (unsubscribe func())
	Attach(c Container) error
	Detach()
	Close() error
}

// Capturer is implemented by views that can render a screenshot.
type Capturer interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Engine creates views.
type Engine interface {
	Name() string
	Create(settings Settings) (View, error)
	Close() error
}

// Dispatcher runs fn on the goroutine that owns browsing state.
type Dispatcher func(fn func())

// Inline runs fn immediately on the calling goroutine.
func Inline(fn func()) { fn() }

// Context bundles the engine with the settings and container every tab
// shares. Construct it once at startup and hand it to the hierarchy.
type Context struct {
	engine    Engine
	settings  Settings
	container Container

	mu      sync.Mutex
	created int
}

// NewContext builds a Context with the minimal settings profile.
func NewContext(e Engine, container Container) *Context {
	return &Context{
		engine:    e,
		settings:  MinimalSettings(),
		container: container,
	}
}

// Engine returns the underlying engine.
func (c *Context) Engine() Engine {
	return c.engine
}

// Settings returns the profile applied to new views.
func (c *Context) Settings() Settings {
	return c.settings
}

// Container returns the UI slot views are attached to.
func (c *Context) Container() Container {
	return c.container
}

// NewView creates a view with the shared settings.
func (c *Context) NewView() (View, error) {
	v, err := c.engine.Create(c.settings)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
	return v, nil
}

// Created returns how many views this context has handed out.
func (c *Context) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// NamedContainer is a Container identified only by its name.
type NamedContainer string

// ContainerID implements Container.
func (n NamedContainer) ContainerID() string { return string(n) }
