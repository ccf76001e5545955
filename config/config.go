// Package config aggregates every tunable knob enumerated in spec §6 into a
// single ASMSConfig, loadable from YAML and hot-swappable at runtime.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PressureBand is one row of the context-pressure table (spec §4.8). Bands
// are fixed; only the KeepRatio of each may be overridden.
type PressureBand struct {
	Name      string  `yaml:"name"`
	MinRho    float64 `yaml:"min_rho"`
	MaxRho    float64 `yaml:"max_rho"`
	KeepRatio float64 `yaml:"keep_ratio"`
}

// DefaultPressureTable is the fixed five-band table from spec §4.8.
func DefaultPressureTable() []PressureBand {
	return []PressureBand{
		{Name: "none", MinRho: 0, MaxRho: 0.60, KeepRatio: 1.00},
		{Name: "light", MinRho: 0.60, MaxRho: 0.70, KeepRatio: 0.70},
		{Name: "moderate", MinRho: 0.70, MaxRho: 0.80, KeepRatio: 0.50},
		{Name: "heavy", MinRho: 0.80, MaxRho: 0.90, KeepRatio: 0.30},
		{Name: "emergency", MinRho: 0.90, MaxRho: 1.01, KeepRatio: 0.20},
	}
}

// BoundedStringFieldConfig overrides per-field bounds for a named field
// (e.g. "codebaseTree", "contextNotes").
type BoundedStringFieldConfig struct {
	MaxSize             int64 `yaml:"max_size"`
	CompressThreshold    int64 `yaml:"compress_threshold"`
	SummarizeThreshold   int64 `yaml:"summarize_threshold"`
	SummarizationEnabled bool  `yaml:"summarization_enabled"`
	CompressionEnabled   bool  `yaml:"compression_enabled"`
}

// ASMSConfig is the single configuration surface for every ASMS component.
type ASMSConfig struct {
	// Monitor (C2)
	HeapCeilingMB      int     `yaml:"heap_ceiling_mb"`
	MonitorIntervalMs  int     `yaml:"monitor_interval_ms"`
	WarningRatio       float64 `yaml:"warning_ratio"`
	CriticalRatio      float64 `yaml:"critical_ratio"`
	EnableForcedReclaim bool   `yaml:"enable_forced_reclaim"`

	// Document cache (C6)
	DocumentCacheMaxBytes          int64 `yaml:"document_cache_max_bytes"`
	DocumentCacheMaxEntries        int   `yaml:"document_cache_max_entries"`
	DocumentCacheCompressThreshold int64 `yaml:"document_cache_compress_threshold"`

	// Message reducer (C7)
	MessagesMaxCount          int   `yaml:"messages_max_count"`
	MessagesMaxTotalBytes     int64 `yaml:"messages_max_total_bytes"`
	MessagesPreserveImportant bool  `yaml:"messages_preserve_important"`

	// Bounded string manager (C5)
	BoundedStringDefault BoundedStringFieldConfig            `yaml:"bounded_string_default"`
	BoundedStringFields  map[string]BoundedStringFieldConfig `yaml:"bounded_string_fields"`

	// Serializer + blob store (C10)
	SerializerMaxStringSize int64  `yaml:"serializer_max_string_size"`
	SerializerMaxArraySize  int    `yaml:"serializer_max_array_size"`
	SerializerMaxObjectKeys int    `yaml:"serializer_max_object_keys"`
	BlobDir                 string `yaml:"blob_dir"`

	// Context manager (C9)
	ContextPressureTable []PressureBand `yaml:"context_pressure_table"`
}

// Default returns the documented defaults from spec §4 and §6.
func Default() *ASMSConfig {
	return &ASMSConfig{
		HeapCeilingMB:       8192,
		MonitorIntervalMs:   5000,
		WarningRatio:        0.70,
		CriticalRatio:       0.85,
		EnableForcedReclaim: true,

		DocumentCacheMaxBytes:          500 * 1024 * 1024,
		DocumentCacheMaxEntries:        1000,
		DocumentCacheCompressThreshold: 1024 * 1024,

		MessagesMaxCount:          200,
		MessagesMaxTotalBytes:     50 * 1024 * 1024,
		MessagesPreserveImportant: true,

		BoundedStringDefault: BoundedStringFieldConfig{
			MaxSize:              50 * 1024 * 1024,
			CompressThreshold:    5 * 1024 * 1024,
			SummarizeThreshold:   30 * 1024 * 1024,
			SummarizationEnabled: true,
			CompressionEnabled:   true,
		},
		BoundedStringFields: map[string]BoundedStringFieldConfig{},

		SerializerMaxStringSize: 200 * 1024,
		SerializerMaxArraySize:  2000,
		SerializerMaxObjectKeys: 2000,
		BlobDir:                 ".lg-blobs",

		ContextPressureTable: DefaultPressureTable(),
	}
}

// Validate checks configuration invariants and self-corrects to defaults on
// misconfiguration, per spec §7 ("Configuration errors ... corrected to
// defaults with a warning; they never propagate").
func (c *ASMSConfig) Validate() (warnings []string) {
	d := Default()
	if c.WarningRatio >= c.CriticalRatio {
		warnings = append(warnings, fmt.Sprintf(
			"warning_ratio (%.2f) must be strictly less than critical_ratio (%.2f); reverting to defaults",
			c.WarningRatio, c.CriticalRatio))
		c.WarningRatio = d.WarningRatio
		c.CriticalRatio = d.CriticalRatio
	}
	if c.HeapCeilingMB <= 0 {
		warnings = append(warnings, "heap_ceiling_mb must be positive; reverting to default")
		c.HeapCeilingMB = d.HeapCeilingMB
	}
	if c.MonitorIntervalMs <= 0 {
		warnings = append(warnings, "monitor_interval_ms must be positive; reverting to default")
		c.MonitorIntervalMs = d.MonitorIntervalMs
	}
	if c.DocumentCacheMaxBytes <= 0 {
		warnings = append(warnings, "document_cache_max_bytes must be positive; reverting to default")
		c.DocumentCacheMaxBytes = d.DocumentCacheMaxBytes
	}
	if c.MessagesMaxCount <= 0 {
		warnings = append(warnings, "messages_max_count must be positive; reverting to default")
		c.MessagesMaxCount = d.MessagesMaxCount
	}
	if len(c.ContextPressureTable) != len(DefaultPressureTable()) {
		warnings = append(warnings, "context_pressure_table bands are fixed; reverting to default bands")
		c.ContextPressureTable = DefaultPressureTable()
	}
	return warnings
}

// FieldConfig returns the effective BoundedStringFieldConfig for a named
// field, falling back to BoundedStringDefault when no override exists.
func (c *ASMSConfig) FieldConfig(field string) BoundedStringFieldConfig {
	if fc, ok := c.BoundedStringFields[field]; ok {
		return fc
	}
	return c.BoundedStringDefault
}

// Load reads and parses an ASMSConfig from a YAML file, validating (and
// self-correcting) the result before returning it.
func Load(path string) (*ASMSConfig, []string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	warnings := cfg.Validate()
	return cfg, warnings, nil
}

// Live holds an atomically swappable ASMSConfig so long-running agent
// processes can reload configuration (e.g. a relaxed HeapCeilingMB) without
// a restart. Components should read through Snapshot rather than capturing
// a *ASMSConfig at construction time.
type Live struct {
	ptr atomic.Pointer[ASMSConfig]
}

// NewLive creates a Live configuration holder seeded with cfg.
func NewLive(cfg *ASMSConfig) *Live {
	l := &Live{}
	l.ptr.Store(cfg)
	return l
}

// Snapshot returns the currently active configuration.
func (l *Live) Snapshot() *ASMSConfig {
	return l.ptr.Load()
}

// Reload re-reads path and atomically swaps the active configuration.
// On error the previous configuration remains active.
func (l *Live) Reload(path string) ([]string, error) {
	cfg, warnings, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.ptr.Store(cfg)
	return warnings, nil
}
