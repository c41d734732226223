package model

import (
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	yamlv3 "gopkg.in/yaml.v3"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	DefaultEndpointURL = "http://127.0.0.1:8080"
	DefaultListen      = ":8080"
	DefaultDataDir     = "./data"
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
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int       `json:"version" yaml:"version"` // fixed 0 for now
	Endpoint *Endpoint `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Run      *Run      `json:"run,omitempty" yaml:"run,omitempty"`
	Watch    *Watch    `json:"watch,omitempty" yaml:"watch,omitempty"`
	Service  Service   `json:"service" yaml:"service"`
	Server   *Server   `json:"server,omitempty" yaml:"server,omitempty"`
}

// Endpoint is the remote run endpoint the client side talks to.
type Endpoint struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

func (e *Endpoint) Timeout() time.Duration {
	if e == nil {
		return 0
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Run holds the parameters of a roam cycle. Unset fields fall back to the
// built-in defaults.
type Run struct {
	Iface string `json:"iface,omitempty" yaml:"iface,omitempty"`
	RSSI  int    `json:"rssi,omitempty" yaml:"rssi,omitempty"`
}

type Watch struct {
	MaxWaitSeconds      int     `json:"max_wait_seconds,omitempty" yaml:"max_wait_seconds,omitempty"`
	PollIntervalSeconds int     `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`
	LogIntervalSeconds  float64 `json:"log_interval_seconds,omitempty" yaml:"log_interval_seconds,omitempty"`
}

func (w *Watch) MaxWait() time.Duration {
	if w == nil {
		return 0
	}
	return time.Duration(w.MaxWaitSeconds) * time.Second
}

func (w *Watch) PollInterval() time.Duration {
	if w == nil {
		return 0
	}
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

func (w *Watch) LogInterval() time.Duration {
	if w == nil {
		return 0
	}
	return time.Duration(w.LogIntervalSeconds * float64(time.Second))
}

// Service controls how runs are driven. Manual mode does a single run,
// timer mode runs on Schedule until interrupted.
type Service struct {
	Mode       string      `json:"mode" yaml:"mode"`
	Verbose    *bool       `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Dir        *string     `json:"dir,omitempty" yaml:"dir,omitempty"` // save results here
	Schedule   *Schedule   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Repository *Repository `json:"repository,omitempty" yaml:"repository,omitempty"` // remote publication
}

// Schedule is either a cron expression or an ISO 8601 duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type Repository struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

// Server configures the remote run endpoint.
type Server struct {
	Listen      string   `json:"listen" yaml:"listen"`
	DataDir     string   `json:"data_dir" yaml:"data_dir"`
	Command     Command  `json:"command" yaml:"command"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// Command is the roam test process. Interface and RSSI arguments are
// appended on each start.
type Command struct {
	Path           string            `json:"path" yaml:"path"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

func (c Command) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the configuration written when none exists.
func DefaultConfig() *Config {
	return &Config{
		Version:  0,
		Endpoint: &Endpoint{URL: DefaultEndpointURL, TimeoutSeconds: 10},
		Run:      &Run{Iface: "wlan0", RSSI: -75},
		Watch: &Watch{
			MaxWaitSeconds:      120,
			PollIntervalSeconds: 3,
			LogIntervalSeconds:  1,
		},
		Service: Service{Mode: ServiceModeManual},
		Server: &Server{
			Listen:  DefaultListen,
			DataDir: DefaultDataDir,
			Command: Command{
				Path:           "python3",
				Args:           []string{"-u", "main.py"},
				TimeoutSeconds: 600,
			},
		},
	}
}

// WriteConfig encodes cfg as YAML.
func WriteConfig(w io.Writer, cfg *Config) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
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
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}
