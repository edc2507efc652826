package service

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

// DefaultGrace is added to the expected duration of a profile to get the
// timeout of a run.
const DefaultGrace = 10 * time.Minute

// Settings are the executor settings of an Orchestrator.
type Settings struct {
	Path  string
	Args  []string // prepended to the generated arguments
	Env   []string
	Grace time.Duration
	// Timeout overrides the per profile timeout when non zero.
	Timeout time.Duration
}

// SettingsFromConfig converts the executor section of a config file.
// Environment values starting with $ are expanded, keys are upper-cased.
func SettingsFromConfig(cfg model.Executor) (Settings, error) {
	s := Settings{
		Path:  cfg.Binary,
		Args:  append([]string(nil), cfg.Args...),
		Grace: DefaultGrace,
	}
	if s.Path == "" {
		s.Path = model.DefaultBinary
	}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.Env = make([]string, 0, len(keys))
	for _, k := range keys {
		v := cfg.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		s.Env = append(s.Env, strings.ToUpper(k)+"="+v)
	}

	if cfg.Grace != "" {
		d, err := model.ParseISODuration(cfg.Grace)
		if err != nil {
			return Settings{}, fmt.Errorf("parsing executor.grace: %w", err)
		}
		s.Grace = d
	}
	if cfg.Timeout != "" {
		d, err := model.ParseISODuration(cfg.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("parsing executor.timeout: %w", err)
		}
		s.Timeout = d
	}
	return s, nil
}

// Override keys, bound to flags and DISKBENCH_* environment variables.
const (
	KeyBinary  = "executor.binary"
	KeyTimeout = "executor.timeout"
	KeyVerbose = "service.verbose"
	KeyHistory = "history.path"
)

// ApplyOverrides copies values explicitly set in v over cfg.
func ApplyOverrides(cfg *model.Config, v *viper.Viper) {
	if v.IsSet(KeyBinary) {
		cfg.Executor.Binary = v.GetString(KeyBinary)
	}
	if v.IsSet(KeyTimeout) {
		cfg.Executor.Timeout = v.GetString(KeyTimeout)
	}
	if v.IsSet(KeyVerbose) && v.GetBool(KeyVerbose) {
		cfg.Service.Verbose = true
	}
	if v.IsSet(KeyHistory) {
		cfg.History = &model.History{Path: v.GetString(KeyHistory)}
	}
}

// NewViper returns a viper instance reading DISKBENCH_* variables,
// e.g. DISKBENCH_EXECUTOR_BINARY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("diskbench")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{KeyBinary, KeyTimeout, KeyVerbose, KeyHistory} {
		_ = v.BindEnv(key)
	}
	return v
}
