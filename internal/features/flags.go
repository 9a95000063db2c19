package features

import "sync"

// Feature names accepted by IsEnabled, Enable and Disable.
const (
	Snapshots = "snapshots"
	Autofill  = "autofill"
	Autosave  = "autosave"
	Eviction  = "eviction"
)

// FeatureFlags holds runtime feature toggles of the browser core.
// This structure is NOT persisted to disk - it's in-memory only and seeded
// from configuration at startup.
type FeatureFlags struct {
	mu sync.RWMutex

	SnapshotsEnabled bool
	AutofillEnabled  bool
	AutosaveEnabled  bool
	EvictionEnabled  bool
}

// NewFeatureFlags creates a new FeatureFlags instance with default values.
// Snapshots are off by default; everything else is on.
func NewFeatureFlags() *FeatureFlags {
	return &FeatureFlags{
		AutofillEnabled: true,
		AutosaveEnabled: true,
		EvictionEnabled: true,
	}
}

// IsEnabled checks if a feature is enabled
func (f *FeatureFlags) IsEnabled(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch name {
	case Snapshots:
		return f.SnapshotsEnabled
	case Autofill:
		return f.AutofillEnabled
	case Autosave:
		return f.AutosaveEnabled
	case Eviction:
		return f.EvictionEnabled
	default:
		// Unknown features are off
		return false
	}
}

// Enable enables a specific feature
func (f *FeatureFlags) Enable(name string) {
	f.Set(name, true)
}

// Disable disables a specific feature
func (f *FeatureFlags) Disable(name string) {
	f.Set(name, false)
}

// Set sets a feature's flag. Unknown names are ignored.
func (f *FeatureFlags) Set(name string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case Snapshots:
		f.SnapshotsEnabled = enabled
	case Autofill:
		f.AutofillEnabled = enabled
	case Autosave:
		f.AutosaveEnabled = enabled
	case Eviction:
		f.EvictionEnabled = enabled
	}
}

// Snapshot returns a copy of all flags as a map.
func (f *FeatureFlags) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return map[string]bool{
		Snapshots: f.SnapshotsEnabled,
		Autofill:  f.AutofillEnabled,
		Autosave:  f.AutosaveEnabled,
		Eviction:  f.EvictionEnabled,
	}
}
