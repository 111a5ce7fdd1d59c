// Package pluginbus dispatches inbound envelopes to registered plugins
// by priority, enforcing per-plugin timeouts, capability gating, and
// health tracking, and composes the insights, permission decision, and
// message mutation each dispatch produces.
package pluginbus

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/atomicfile"
	"github.com/grovetools/companion/pkg/models"
)

var log = logging.NewLogger("pluginbus")

// pluginEntry pairs a static definition with its mutable runtime state.
type pluginEntry struct {
	def   *models.PluginDefinition
	mu    sync.Mutex
	state models.PluginRuntimeState
}

// Bus is the registry and dispatcher of plugins.
type Bus struct {
	mu      sync.RWMutex
	entries map[string]*pluginEntry
	order   []string // registration order, used when priorities tie
	path    string
	pool    *workerPool
}

// New creates an empty Bus that persists runtime state to path. Its
// non-blocking plugin dispatches run on a pool bounded to
// runtime.NumCPU() workers.
func New(path string) *Bus {
	return &Bus{
		entries: make(map[string]*pluginEntry),
		path:    path,
		pool:    newWorkerPool(runtime.NumCPU()),
	}
}

// Register adds a plugin definition, seeding its runtime state from
// defaults. Call before Load so persisted overrides can apply on top.
func (b *Bus) Register(def *models.PluginDefinition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := make(map[string]any, len(def.DefaultConfig))
	for k, v := range def.DefaultConfig {
		cfg[k] = v
	}
	grants := make(map[models.Capability]bool, len(def.Capabilities))

	b.entries[def.ID] = &pluginEntry{
		def: def,
		state: models.PluginRuntimeState{
			Enabled: def.DefaultEnabled,
			Config:  cfg,
			Grants:  grants,
		},
	}
	b.order = append(b.order, def.ID)
}

// Load restores persisted enabled/config/grant overrides on top of the
// registered defaults. Invalid persisted config for a plugin falls
// back to its default with a one-shot warning, and the default is
// re-persisted so the warning doesn't repeat.
func (b *Bus) Load() error {
	data, err := atomicfile.ReadOrEmpty(b.path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "reading plugins.json")
	}
	if data == nil {
		return nil
	}

	var persisted models.PersistedPluginState
	if err := json.Unmarshal(data, &persisted); err != nil {
		log.Warn("plugins.json is corrupt; starting from defaults")
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	dirty := false
	for id, entry := range b.entries {
		entry.mu.Lock()
		if enabled, ok := persisted.Enabled[id]; ok {
			entry.state.Enabled = enabled
		}
		if cfg, ok := persisted.Config[id]; ok {
			validate := entry.def.ConfigValidator
			if validate != nil && validate(cfg) != nil {
				log.WithField("plugin", id).Warn("persisted plugin config invalid; falling back to default")
				dirty = true
			} else {
				entry.state.Config = cfg
			}
		}
		if grants, ok := persisted.Grants[id]; ok {
			entry.state.Grants = grants
		}
		entry.mu.Unlock()
	}

	if dirty {
		// best-effort: re-persist the corrected (default) configs
		go func() {
			if err := b.persist(); err != nil {
				log.WithError(err).Warn("failed to re-persist corrected plugin config")
			}
		}()
	}
	return nil
}

func (b *Bus) persist() error {
	b.mu.RLock()
	persisted := models.PersistedPluginState{
		UpdatedAt: time.Now(),
		Enabled:   make(map[string]bool, len(b.entries)),
		Config:    make(map[string]map[string]any, len(b.entries)),
		Grants:    make(map[string]map[models.Capability]bool, len(b.entries)),
	}
	for id, entry := range b.entries {
		entry.mu.Lock()
		persisted.Enabled[id] = entry.state.Enabled
		persisted.Config[id] = entry.state.Config
		persisted.Grants[id] = entry.state.Grants
		entry.mu.Unlock()
	}
	b.mu.RUnlock()

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encoding plugins.json")
	}
	return atomicfile.Write(b.path, data, 0644)
}

// SetEnabled toggles a plugin and persists the change.
func (b *Bus) SetEnabled(id string, enabled bool) error {
	b.mu.RLock()
	entry, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return errors.NotFound("plugin", id)
	}
	entry.mu.Lock()
	entry.state.Enabled = enabled
	entry.mu.Unlock()
	return b.persist()
}

// SetConfig validates and replaces a plugin's effective config, then
// persists it.
func (b *Bus) SetConfig(id string, cfg map[string]any) error {
	b.mu.RLock()
	entry, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return errors.NotFound("plugin", id)
	}
	if entry.def.ConfigValidator != nil {
		if err := entry.def.ConfigValidator(cfg); err != nil {
			return errors.InvalidInput("config", err.Error())
		}
	}
	entry.mu.Lock()
	entry.state.Config = cfg
	entry.mu.Unlock()
	return b.persist()
}

// SetGrant updates one capability grant for a plugin and persists it.
func (b *Bus) SetGrant(id string, cap models.Capability, granted bool) error {
	b.mu.RLock()
	entry, ok := b.entries[id]
	b.mu.RUnlock()
	if !ok {
		return errors.NotFound("plugin", id)
	}
	entry.mu.Lock()
	if entry.state.Grants == nil {
		entry.state.Grants = make(map[models.Capability]bool)
	}
	entry.state.Grants[cap] = granted
	entry.mu.Unlock()
	return b.persist()
}

// DecodeConfig applies mapstructure so plugin authors can declare a
// typed config struct instead of hand-walking map[string]any.
func DecodeConfig(cfg map[string]any, out any) error {
	return mapstructure.Decode(cfg, out)
}

// ListedPlugin is the introspection shape returned by List.
type ListedPlugin struct {
	ID             string                      `json:"id"`
	Version        string                      `json:"version"`
	Events         []string                    `json:"events"`
	Priority       int                         `json:"priority"`
	Blocking       bool                        `json:"blocking"`
	TimeoutMs      int64                       `json:"timeoutMs"`
	FailPolicy     models.FailPolicy           `json:"failPolicy"`
	Enabled        bool                        `json:"enabled"`
	Config         map[string]any              `json:"config"`
	Grants         map[models.Capability]bool  `json:"grants"`
	Health         models.PluginHealth         `json:"health"`
}

// List returns the resolved runtime info for every registered plugin.
func (b *Bus) List() []ListedPlugin {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]ListedPlugin, 0, len(b.entries))
	for _, id := range b.order {
		entry := b.entries[id]
		entry.mu.Lock()
		result = append(result, ListedPlugin{
			ID:         entry.def.ID,
			Version:    entry.def.Version,
			Events:     entry.def.Events,
			Priority:   entry.def.Priority,
			Blocking:   entry.def.Blocking,
			TimeoutMs:  entry.def.EffectiveTimeout().Milliseconds(),
			FailPolicy: entry.def.FailPolicy,
			Enabled:    entry.state.Enabled,
			Config:     entry.state.Config,
			Grants:     entry.state.Grants,
			Health:     entry.state.Health,
		})
		entry.mu.Unlock()
	}
	return result
}

func (b *Bus) matchingPlugins(eventName string) []*pluginEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*pluginEntry
	for _, id := range b.order {
		entry := b.entries[id]
		entry.mu.Lock()
		enabled := entry.state.Enabled
		entry.mu.Unlock()
		if enabled && entry.def.MatchesEvent(eventName) {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].def.Priority > matched[j].def.Priority
	})
	return matched
}
