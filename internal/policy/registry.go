package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dtms/internal/logger"
	"dtms/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// fileConfig maps the on-disk policy file.
type fileConfig struct {
	Thresholds struct {
		ADXFloor           float64 `yaml:"adx_floor"`
		ATRSpikeMult       float64 `yaml:"atr_spike_mult"`
		ATRShockMult       float64 `yaml:"atr_shock_mult"`
		ConfluenceReversal float64 `yaml:"confluence_reversal"`
		RiskFloorR         float64 `yaml:"risk_floor_r"`
		DailyLossPct       float64 `yaml:"daily_loss_pct"`
		FastInterval       string  `yaml:"fast_interval"`
		StructureInterval  string  `yaml:"structure_interval"`
	} `yaml:"thresholds"`
	TimeCeilings map[string]string `yaml:"time_ceilings"`
	State        struct {
		DebounceCycles int    `yaml:"debounce_cycles"`
		RecoveryWindow string `yaml:"recovery_window"`
		ActionCooldown string `yaml:"action_cooldown"`
	} `yaml:"state"`
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Thresholds)

// Registry owns the live policy thresholds, reloading them when the
// file changes. A reload that fails validation keeps the previous
// snapshot in place.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   Thresholds
	version   int64
	loadedAt  time.Time
	listeners []ChangeListener
}

// NewRegistry reads the policy file and starts watching it for changes.
// An empty path yields a static registry holding the defaults.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path), current: Defaults()}
	if r.path == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy config failed: %w", err)
	}
	r.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("policy reload failed, keeping previous thresholds: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Current returns the active thresholds snapshot.
func (r *Registry) Current() Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version increments on each successful reload.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// OnChange registers a listener invoked after every successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readPolicyFile(r.path)
	if err != nil {
		return err
	}
	next, err := cfg.toThresholds()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = next
	r.version++
	r.loadedAt = time.Now()
	r.mu.Unlock()
	logger.Infof("policy registry loaded thresholds from %s", filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.current
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("policy listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func readPolicyFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read policy file failed: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return fileConfig{}, err
	}
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse policy file failed: %w", err)
	}
	return cfg, nil
}

func (c fileConfig) toThresholds() (Thresholds, error) {
	out := Defaults()
	t := c.Thresholds
	if t.ADXFloor > 0 {
		out.ADXFloor = t.ADXFloor
	}
	if t.ATRSpikeMult > 0 {
		out.ATRSpikeMult = t.ATRSpikeMult
	}
	if t.ATRShockMult > 0 {
		out.ATRShockMult = t.ATRShockMult
	}
	if t.ConfluenceReversal > 0 {
		out.ConfluenceReversal = t.ConfluenceReversal
	}
	if t.RiskFloorR != 0 {
		out.RiskFloorR = t.RiskFloorR
	}
	if t.DailyLossPct > 0 {
		out.DailyLossPct = t.DailyLossPct
	}
	if s := strings.TrimSpace(t.FastInterval); s != "" {
		out.FastInterval = s
	}
	if s := strings.TrimSpace(t.StructureInterval); s != "" {
		out.StructureInterval = s
	}
	for class, rawDur := range c.TimeCeilings {
		dur, err := time.ParseDuration(strings.TrimSpace(rawDur))
		if err != nil || dur <= 0 {
			return Thresholds{}, fmt.Errorf("invalid time ceiling for %q: %q", class, rawDur)
		}
		out.TimeCeilings[types.ParseTradeClass(class)] = dur
	}
	if c.State.DebounceCycles > 0 {
		out.DebounceCycles = c.State.DebounceCycles
	}
	if s := strings.TrimSpace(c.State.RecoveryWindow); s != "" {
		dur, err := time.ParseDuration(s)
		if err != nil || dur <= 0 {
			return Thresholds{}, fmt.Errorf("invalid recovery_window: %q", s)
		}
		out.RecoveryWindow = dur
	}
	if s := strings.TrimSpace(c.State.ActionCooldown); s != "" {
		dur, err := time.ParseDuration(s)
		if err != nil || dur <= 0 {
			return Thresholds{}, fmt.Errorf("invalid action_cooldown: %q", s)
		}
		out.ActionCooldown = dur
	}
	if out.RiskFloorR >= 0 {
		return Thresholds{}, fmt.Errorf("risk_floor_r must be negative, got %v", out.RiskFloorR)
	}
	return out, nil
}

// policySchema constrains the numeric ranges of the policy file so a
// typo (e.g. confluence_reversal: 67 instead of 0.67) fails loudly at
// reload instead of silently disabling a detector.
var policySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"thresholds": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"adx_floor":           map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				"atr_spike_mult":      map[string]any{"type": "number", "exclusiveMinimum": 1},
				"atr_shock_mult":      map[string]any{"type": "number", "exclusiveMinimum": 1},
				"confluence_reversal": map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"risk_floor_r":        map[string]any{"type": "number", "exclusiveMaximum": 0},
				"daily_loss_pct":      map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"fast_interval":       map[string]any{"type": "string"},
				"structure_interval":  map[string]any{"type": "string"},
			},
		},
		"time_ceilings": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
		"state": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"debounce_cycles": map[string]any{"type": "integer", "minimum": 1},
				"recovery_window": map[string]any{"type": "string"},
				"action_cooldown": map[string]any{"type": "string"},
			},
		},
	},
}

var (
	compiledSchema     *jsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func validateSchema(rawYAML []byte) error {
	compileSchemaOnce.Do(func() {
		raw, err := json.Marshal(policySchema)
		if err != nil {
			compileSchemaError = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("policy.json", bytes.NewReader(raw)); err != nil {
			compileSchemaError = err
			return
		}
		compiledSchema, compileSchemaError = compiler.Compile("policy.json")
	})
	if compileSchemaError != nil {
		return fmt.Errorf("policy schema compile failed: %w", compileSchemaError)
	}
	var doc any
	if err := yaml.Unmarshal(rawYAML, &doc); err != nil {
		return fmt.Errorf("parse policy file failed: %w", err)
	}
	if err := compiledSchema.Validate(normalizeYAML(doc)); err != nil {
		return fmt.Errorf("policy file rejected by schema: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml.v3 map[string]any trees into the plain
// JSON-style values the schema validator expects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}
