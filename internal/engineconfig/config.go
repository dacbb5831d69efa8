// Package engineconfig layers the engine's configuration: CLI flags
// override environment variables, which override an optional
// .makeflow.yaml file. This mirrors the teacher's pattern of building
// one Config struct from cobra flags bound through viper, plus a merge
// step so a non-zero CLI value wins over a file/env value.
package engineconfig

import (
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

// BackendType selects the concrete BackendAdapter the scheduler submits
// non-local work through.
type BackendType string

const (
	BackendLocal      BackendType = "local"
	BackendCluster    BackendType = "cluster"
	BackendWorkerPool BackendType = "wq"
)

// Config is the fully-resolved set of engine options, one field per
// CLI flag in spec.md §6.
type Config struct {
	DAGFile string `mapstructure:"dag_file"`

	Clean        bool        `mapstructure:"clean"`
	BackendType  BackendType `mapstructure:"backend_type"`
	LocalMax     int         `mapstructure:"local_max"`
	RemoteMax    int         `mapstructure:"remote_max"`
	Port         int         `mapstructure:"port"`
	SyntaxOnly   bool        `mapstructure:"syntax_only"`
	EmitGraphviz bool        `mapstructure:"emit_graphviz"`
	BatchOptions string      `mapstructure:"batch_options"`

	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	RetryMax      int           `mapstructure:"retry_max"`
	RetryEnabled  bool          `mapstructure:"retry_enabled"`

	EngineLogPath  string `mapstructure:"engine_log_path"`
	BackendLogPath string `mapstructure:"backend_log_path"`

	SkipPrecheck          bool   `mapstructure:"skip_precheck"`
	PreserveSymlinks      bool   `mapstructure:"preserve_symlinks"`
	AnnounceProjectName   string `mapstructure:"announce_project_name"`
	Priority              int    `mapstructure:"priority"`
	AutoProvisionBy       string `mapstructure:"auto_provision_by"` // "width" or "group"
	AutoProvisionCeiling  int    `mapstructure:"auto_provision_ceiling"`
	DebugSubsystems       string `mapstructure:"debug_subsystems"`
	DebugOutputPath       string `mapstructure:"debug_output_path"`
	DotEnvPath            string `mapstructure:"dot_env_path"`
}

// Defaults returns the hard-coded fallbacks from spec.md §4.5/§6.
// LocalMax is left at 0 ("unset"): cmd/makeflow derives it from the
// host's logical CPU count via gopsutil when the caller never
// overrides it with "-j" (SPEC_FULL.md's local-backend sizing
// supplement), rather than hard-coding 1 as the original does.
func Defaults() Config {
	return Config{
		DAGFile:       "./Makeflow",
		BackendType:   BackendLocal,
		LocalMax:      0,
		RemoteMax:     100,
		SubmitTimeout: 3600 * time.Second,
		RetryMax:      100,
		DotEnvPath:    ".env",
	}
}

// Load builds a Config from an optional file at path, environment
// variables (MAKEFLOW_MAX_REMOTE_JOBS / MAKEFLOW_MAX_LOCAL_JOBS /
// BATCH_OPTIONS, per spec.md §6), and the given CLI overrides, in that
// priority order (CLI wins).
func Load(path string, cli Config) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, err
			}
		}
	}

	v.SetEnvPrefix("MAKEFLOW")
	_ = v.BindEnv("local_max", "MAKEFLOW_MAX_LOCAL_JOBS")
	_ = v.BindEnv("remote_max", "MAKEFLOW_MAX_REMOTE_JOBS")
	_ = v.BindEnv("batch_options", "BATCH_OPTIONS")

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	// CLI-provided fields win over file/env defaults. mergo.WithOverride
	// makes a non-zero field in cli replace the corresponding field in
	// cfg; zero-valued CLI fields (flags the user never set) leave the
	// file/env value in place.
	if err := mergo.Merge(&cfg, cli, mergo.WithOverride); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
