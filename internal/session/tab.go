package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/logger"
)

// DefaultTitle is shown until the engine reports a page title.
const DefaultTitle = "New Tab"

// ErrNoEngine is returned when a tab must materialize but no engine context is configured.
var ErrNoEngine = errors.New("no rendering engine configured")

// Clock returns the current instant. time.Now values carry a monotonic reading
// which eviction compares against.
type Clock func() time.Time

// State is the lifecycle state of a tab's rendering resource.
type State int

const (
	// StateUnrealized means no resource has been created yet.
	StateUnrealized State = iota
	// StateLoaded means the tab holds a live resource.
	StateLoaded
	// StateUnloaded means the resource was released and url/title were kept.
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateUnrealized:
		return "unrealized"
	case StateLoaded:
		return "loaded"
	case StateUnloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tab is one browsing unit with a lazily materialized rendering resource.
type Tab struct {
	id          string
	url         string
	title       string
	snapshotRef string

	view        engine.View
	unsubscribe func()
	unloaded    bool

	activeMono time.Time
	activeWall time.Time

	clock    Clock
	onChange func()
}

func newTab(url string, clock Clock) *Tab {
	now := clock()
	return &Tab{
		id:         uuid.NewString(),
		url:        url,
		title:      DefaultTitle,
		activeMono: now,
		activeWall: now.Round(0),
		clock:      clock,
	}
}

// ID is a process-stable identifier for the tab.
func (t *Tab) ID() string { return t.id }

// URL returns the tab's url. For a loaded tab this is the last url it was told to load.
func (t *Tab) URL() string { return t.url }

// Title returns the page title or DefaultTitle.
func (t *Tab) Title() string { return t.title }

// SnapshotRef identifies the snapshot taken before the last unload, if any.
func (t *Tab) SnapshotRef() string { return t.snapshotRef }

// SetSnapshotRef records a snapshot identifier.
func (t *Tab) SetSnapshotRef(ref string) { t.snapshotRef = ref }

// View returns the live resource or nil.
func (t *Tab) View() engine.View { return t.view }

// LastActive returns the monotonic last-active instant.
func (t *Tab) LastActive() time.Time { return t.activeMono }

// LastActiveWall returns the wall-clock last-active timestamp used for persistence.
func (t *Tab) LastActiveWall() time.Time { return t.activeWall }

// IdleFor returns how long the tab has been inactive as of now.
func (t *Tab) IdleFor(now time.Time) time.Duration {
	return now.Sub(t.activeMono)
}

// State reports the lifecycle state.
func (t *Tab) State() State {
	switch {
	case t.view != nil:
		return StateLoaded
	case t.unloaded:
		return StateUnloaded
	default:
		return StateUnrealized
	}
}

// IsLoaded reports whether the tab holds a live resource.
func (t *Tab) IsLoaded() bool { return t.view != nil }

// IsUnloaded reports whether the tab was evicted.
func (t *Tab) IsUnloaded() bool { return t.unloaded }

// MarkActive refreshes both last-active timestamps.
func (t *Tab) MarkActive() {
	now := t.clock()
	t.activeMono = now
	t.activeWall = now.Round(0)
}

// Materialize acquires a resource from ctx, subscribes to title changes,
// attaches it to the shared container and navigates to the tab's url. On
// failure the tab keeps its previous state.
func (t *Tab) Materialize(ctx *engine.Context) error {
	if t.view != nil {
		return nil
	}
	if ctx == nil {
		return ErrNoEngine
	}

	view, err := ctx.NewView()
	if err != nil {
		return fmt.Errorf("materialize tab %s: %w", t.id, err)
	}

	unsubscribe := view.OnTitleChanged(func(title string) {
		if title == "" {
			return
		}
		t.title = title
		if t.onChange != nil {
			t.onChange()
		}
	})

	fail := func(err error) error {
		unsubscribe()
		view.Detach()
		if cerr := view.Close(); cerr != nil {
			logger.Warn("closing view after failed materialize: %v", cerr)
		}
		return fmt.Errorf("materialize tab %s: %w", t.id, err)
	}

	if c := ctx.Container(); c != nil {
		if err := view.Attach(c); err != nil {
			return fail(err)
		}
	}
	if t.url != "" && t.url != engine.BlankURL {
		if err := view.Load(t.url); err != nil {
			return fail(err)
		}
	}

	t.view = view
	t.unsubscribe = unsubscribe
	t.unloaded = false
	t.MarkActive()
	return nil
}

// release detaches and closes the resource. Safe to call when already released.
func (t *Tab) release() {
	if t.view == nil {
		return
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.view.Detach()
	if err := t.view.Close(); err != nil {
		logger.Warn("closing view for tab %s: %v", t.id, err)
	}
	t.view = nil
}

// Unload releases the resource while keeping url and title. The url is read
// back from the resource so in-page navigation survives. Returns false when
// the tab was not loaded.
func (t *Tab) Unload() bool {
	if t.unloaded || t.view == nil {
		return false
	}
	if current := t.view.CurrentURL(); current != "" && current != engine.BlankURL {
		t.url = current
	}
	t.release()
	t.unloaded = true
	return true
}

// Restore re-materializes an unloaded tab at its preserved url.
func (t *Tab) Restore(ctx *engine.Context) error {
	if !t.unloaded {
		return nil
	}
	return t.Materialize(ctx)
}

// Navigate points the tab at url, loading it immediately when the tab is live.
func (t *Tab) Navigate(url string) error {
	t.url = url
	if t.view == nil {
		return nil
	}
	return t.view.Load(url)
}

// Hide detaches a live resource from the UI without releasing it.
func (t *Tab) Hide() {
	if t.view != nil {
		t.view.Detach()
	}
}

// Show re-attaches a live resource to the container of ctx.
func (t *Tab) Show(ctx *engine.Context) error {
	if t.view == nil || ctx == nil || ctx.Container() == nil {
		return nil
	}
	return t.view.Attach(ctx.Container())
}

func (t *Tab) destroy() {
	t.release()
	t.onChange = nil
}
