// Package snapshot captures a lightweight proxy of a tab before its
// rendering resource is released: a PNG screenshot when the engine can
// render one and a compressed metadata sidecar recording url and title.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/codefionn/ryxsurf/internal/engine"
	"github.com/codefionn/ryxsurf/internal/logger"
	"github.com/codefionn/ryxsurf/internal/session"
)

const (
	// DefaultTimeout bounds a single capture.
	DefaultTimeout = 2 * time.Second

	imageExt   = ".png"
	sidecarExt = ".json.zst"
)

var (
	// ErrDisabled is returned by Capture while snapshots are switched off.
	ErrDisabled = errors.New("snapshots disabled")
	// ErrNotLoaded is returned when the tab has no live resource to capture.
	ErrNotLoaded = errors.New("tab is not loaded")
	// ErrNotFound is returned for unknown snapshot references.
	ErrNotFound = errors.New("snapshot not found")
	// ErrInvalidRef is returned for references that are not plain identifiers.
	ErrInvalidRef = errors.New("invalid snapshot reference")
)

// Metadata is stored next to every snapshot.
type Metadata struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	CapturedAt time.Time `json:"captured_at"`
	HasImage   bool      `json:"has_image"`
}

// Options configures a Manager.
type Options struct {
	Enabled bool
	Timeout time.Duration
	Clock   func() time.Time
}

// Manager writes and reads snapshots under one directory.
type Manager struct {
	dir     string
	enabled atomic.Bool
	timeout time.Duration
	clock   func() time.Time
	log     *logger.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a manager rooted at dir. The directory is created lazily on the first capture.
func New(dir string, opts Options) (*Manager, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	m := &Manager{
		dir:     dir,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		log:     logger.Global().WithPrefix("snapshot"),
		enc:     enc,
		dec:     dec,
	}
	m.enabled.Store(opts.Enabled)
	return m, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// Enabled reports whether captures are taken.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// SetEnabled toggles captures at runtime.
func (m *Manager) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// ID derives a snapshot identifier from a url and capture time.
func ID(url string, at time.Time) string {
	return fmt.Sprintf("%016x_%d", xxhash.Sum64String(url), at.Unix())
}

// ImagePath returns where the PNG for ref lives.
func (m *Manager) ImagePath(ref string) string {
	return filepath.Join(m.dir, ref+imageExt)
}

func (m *Manager) sidecarPath(ref string) string {
	return filepath.Join(m.dir, ref+sidecarExt)
}

func validRef(ref string) error {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// Capture snapshots a loaded tab and returns the reference. The screenshot is
// skipped when the view cannot render one or the timeout elapses; the
// metadata sidecar is always written.
func (m *Manager) Capture(ctx context.Context, tab *session.Tab) (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}
	view := tab.View()
	if view == nil {
		return "", ErrNotLoaded
	}

	url := view.CurrentURL()
	if url == "" || url == engine.BlankURL {
		url = tab.URL()
	}
	now := m.clock()
	ref := ID(url, now)

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	meta := Metadata{URL: url, Title: tab.Title(), CapturedAt: now.UTC().Truncate(time.Second)}

	if capturer, ok := view.(engine.Capturer); ok {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		img, err := capturer.Screenshot(cctx)
		cancel()
		switch {
		case err != nil:
			m.log.Debug("screenshot of %s skipped: %v", url, err)
		default:
			if err := os.WriteFile(m.ImagePath(ref), img, 0o600); err != nil {
				return "", fmt.Errorf("write snapshot image: %w", err)
			}
			meta.HasImage = true
		}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode snapshot metadata: %w", err)
	}
	if err := os.WriteFile(m.sidecarPath(ref), m.enc.EncodeAll(raw, nil), 0o600); err != nil {
		_ = os.Remove(m.ImagePath(ref))
		return "", fmt.Errorf("write snapshot metadata: %w", err)
	}

	m.log.Debug("captured %s for %s", ref, url)
	return ref, nil
}

// Restore reads the metadata recorded for ref.
func (m *Manager) Restore(ref string) (Metadata, error) {
	if err := validRef(ref); err != nil {
		return Metadata{}, err
	}
	compressed, err := os.ReadFile(m.sidecarPath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read snapshot metadata: %w", err)
	}

	raw, err := m.dec.DecodeAll(compressed, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("decompress snapshot metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode snapshot metadata: %w", err)
	}
	return meta, nil
}

// Exists reports whether a sidecar for ref is present.
func (m *Manager) Exists(ref string) bool {
	if validRef(ref) != nil {
		return false
	}
	_, err := os.Stat(m.sidecarPath(ref))
	return err == nil
}

// Delete removes both files of ref. Missing files are ignored.
func (m *Manager) Delete(ref string) error {
	if err := validRef(ref); err != nil {
		return err
	}
	var errs []error
	for _, path := range []string{m.ImagePath(ref), m.sidecarPath(ref)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Prune deletes every snapshot whose reference is not in keep.
func (m *Manager) Prune(keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, sidecarExt) {
			continue
		}
		ref := strings.TrimSuffix(name, sidecarExt)
		if keep[ref] {
			continue
		}
		if err := m.Delete(ref); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close releases the compression codecs.
func (m *Manager) Close() error {
	m.dec.Close()
	return m.enc.Close()
}
