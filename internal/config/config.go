// Package config owns process-wide configuration for the session engine:
// parser, renderer, persistence, session, signals, and safety sections,
// loaded through koanf (defaults, then an optional YAML file, then
// SESSIOND_-prefixed environment variables). Merge extends the same
// layering to the per-call and per-session option maps, so the full
// precedence chain is call options over session options over process
// config over built-in defaults, deep-merged at each step.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide configuration surface recognized by the
// engine.
type Config struct {
	Workspace   WorkspaceConfig   `koanf:"workspace"`
	Parser      ParserConfig      `koanf:"parser"`
	Renderer    RendererConfig    `koanf:"renderer"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Session     SessionConfig     `koanf:"session"`
	Signals     SignalsConfig     `koanf:"signals"`
	Safety      SafetyConfig      `koanf:"safety"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Log         LogConfig         `koanf:"log"`
}

type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

type ParserConfig struct {
	DefaultSyntax     string            `koanf:"default_syntax"`
	SupportedSyntaxes []string          `koanf:"supported_syntaxes"`
	Delimiters        map[string]string `koanf:"delimiters"`
}

type RendererConfig struct {
	Adapter         string   `koanf:"adapter"`
	FallbackAdapter string   `koanf:"fallback_adapter"`
	DebounceMs      int      `koanf:"debounce_ms"`
	TimeoutMs       int      `koanf:"timeout_ms"`
	QueueLimit      int      `koanf:"queue_limit"`
	MaxQueueSize    int      `koanf:"max_queue_size"`
	Themes          []string `koanf:"themes"`
}

type PersistenceConfig struct {
	AutosaveIntervalMs int    `koanf:"autosave_interval_ms"`
	TempDir            string `koanf:"temp_dir"`
	BackupExtension    string `koanf:"backup_extension"`
	AtomicWrites       bool   `koanf:"atomic_writes"`
	PreserveMetadata   bool   `koanf:"preserve_metadata"`
}

type SessionConfig struct {
	IdleTimeoutMs      int    `koanf:"idle_timeout_ms"`
	CleanupIntervalMs  int    `koanf:"cleanup_interval_ms"`
	HistoryLimit       int    `koanf:"history_limit"`
	CheckpointDir      string `koanf:"checkpoint_dir"`
	CheckpointOnEdit   bool   `koanf:"checkpoint_on_edit"`
	AutosaveIntervalMs int    `koanf:"autosave_interval_ms"`
}

type SignalsConfig struct {
	MaxPayloadBytes int `koanf:"max_payload_bytes"`
}

type SafetyRuleConfig struct {
	Code     string `koanf:"code"`
	Severity string `koanf:"severity"`
	Regex    string `koanf:"regex"`
}

type SafetyConfig struct {
	Rules           []SafetyRuleConfig `koanf:"rules"`
	ApprovedCodes   []string           `koanf:"approved_codes"`
	BlockSeverities []string           `koanf:"block_severities"`
	Mask            string             `koanf:"mask"`
}

type TelemetryConfig struct {
	DBPath string `koanf:"db_path"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

const envPrefix = "SESSIOND_"

// defaults holds every built-in default; file and environment layers
// override it key by key.
func defaults() map[string]any {
	return map[string]any{
		"parser.default_syntax":        "yaml",
		"parser.supported_syntaxes":    []string{"yaml", "toml"},
		"renderer.adapter":             "default",
		"renderer.fallback_adapter":    "fallback",
		"renderer.debounce_ms":         120,
		"renderer.timeout_ms":          5000,
		"renderer.queue_limit":         64,
		"renderer.max_queue_size":      64,
		"persistence.atomic_writes":    true,
		"persistence.backup_extension": ".bak",
		"session.idle_timeout_ms":      30 * 60 * 1000,
		"session.cleanup_interval_ms":  60 * 1000,
		"session.history_limit":        100,
		"session.checkpoint_dir":       defaultCheckpointDir(),
		"session.checkpoint_on_edit":   true,
		"signals.max_payload_bytes":    16384,
		"telemetry.db_path":            DefaultTelemetryDBPath(),
		"log.level":                    "info",
	}
}

func defaultCheckpointDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.Getenv("HOME")
	}
	return filepath.Join(dir, "sessiond", "checkpoints")
}

// DefaultTelemetryDBPath places the telemetry database under the user
// cache directory, falling back to HOME when no cache dir is defined.
func DefaultTelemetryDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.Getenv("HOME")
	}
	return filepath.Join(dir, "sessiond", "telemetry.db")
}

// Load reads process-wide configuration from configPath (if non-empty) and
// the real OS environment, layered over built-in defaults. Unlike
// LoadWithEnv's manual known-keys loop (kept for hermetic tests, since
// koanf's env.Provider always reads the real os.Environ() and can't take
// an injected lookup), Load additionally layers koanf's own
// providers/env.Provider so any SESSIOND_-prefixed variable is honored,
// not just the ones named in defaults().
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, envPrefix)
		return strings.Replace(strings.ToLower(trimmed), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnv is Load with an injectable environment lookup, so tests can
// supply isolated environment values instead of mutating the process
// environment.
func LoadWithEnv(configPath string, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	for key := range defaults() {
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if value := getenv(envVar); value != "" {
			if err := k.Set(key, value); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Merge deep-merges override onto base (override wins on any key present
// in both) and returns a new map. It operates on the flexible
// string-keyed map shape call/session-level options arrive in,
// independent of the strongly-typed Config above which only ever
// represents the process-wide layer; koanf's providers all read from an
// external source, so a pure in-memory merge needs its own helper.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if existing, ok := out[k]; ok {
			existingMap, existingIsMap := existing.(map[string]any)
			overrideMap, overrideIsMap := v.(map[string]any)
			if existingIsMap && overrideIsMap {
				out[k] = Merge(existingMap, overrideMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// ResolveOptions layers call options over session options over the
// process-wide defaults, returning the final deep-merged option map.
func ResolveOptions(processDefaults, sessionOptions, callOptions map[string]any) map[string]any {
	return Merge(Merge(processDefaults, sessionOptions), callOptions)
}
