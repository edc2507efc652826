package model

import (
	"context"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultBinary = "diskbench"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version  int       `json:"version" yaml:"version"` // fixed 0 for now
	Executor Executor  `json:"executor" yaml:"executor"`
	Service  Service   `json:"service,omitempty" yaml:"service,omitempty"`
	Results  *Results  `json:"results,omitempty" yaml:"results,omitempty"`
	History  *History  `json:"history,omitempty" yaml:"history,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Executor describes how the benchmark executable is invoked.
type Executor struct {
	Binary  string            `json:"binary" yaml:"binary"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Grace   string            `json:"grace,omitempty" yaml:"grace,omitempty"`     // ISO-8601
	Timeout string            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // ISO-8601
}

type Service struct {
	Verbose bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// Results configures where finished runs are published.
type Results struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// History configures the sqlite database keeping finished runs.
type History struct {
	Path string `json:"path" yaml:"path"`
}

// Schedule starts Request periodically. Exactly one of Cron or Duration
// should be set.
type Schedule struct {
	Cron     string  `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string  `json:"duration,omitempty" yaml:"duration,omitempty"` // ISO-8601
	Request  Request `json:"request" yaml:"request"`
}

// DefaultConfig returns the configuration written on a first start.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Executor: Executor{
			Binary: DefaultBinary,
			Grace:  "PT10M",
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
