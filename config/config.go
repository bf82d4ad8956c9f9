// Package config holds the mesh runtime's tunables (spec.md §4.8-§4.14
// timing constants, queue sizes, MAX_CHILDREN) plus optional JSON
// loading via jsoniter, the same decoder the teacher's own config and
// stats bodies use throughout `cmn`.
package config

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/derkalaender/meshnow-go/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config collects every tunable named or implied by spec.md. Durations
// are stored as time.Duration in memory; on the wire (JSON) they are
// milliseconds, matching the original source's pdMS_TO_TICKS(...) units.
type Config struct {
	// IsRoot designates this node as the mesh's single pre-designated
	// root (spec.md §6 init config).
	IsRoot bool `json:"is_root"`

	// MaxChildren bounds the Topology Store's child list (spec.md §4.2,
	// §8 invariant 4).
	MaxChildren int `json:"max_children"`

	// MinChannel/MaxChannel bound the connect job's search sweep
	// (spec.md §4.8); both are Wi-Fi channel numbers, inclusive.
	MinChannel int `json:"min_channel"`
	MaxChannel int `json:"max_channel"`

	// MaxParentsToConsider bounds the Search-phase candidate list
	// (spec.md §4.8).
	MaxParentsToConsider int `json:"max_parents_to_consider"`

	SearchProbeInterval  time.Duration `json:"-"`
	ProbesPerChannel     int           `json:"probes_per_channel"`
	FirstParentWait      time.Duration `json:"-"`
	ConnectTimeout       time.Duration `json:"-"`
	StatusSendInterval   time.Duration `json:"-"`
	KeepAliveTimeout     time.Duration `json:"-"`
	RootUnreachableGrace time.Duration `json:"-"`
	FragmentTimeout      time.Duration `json:"-"`

	// JobRunnerMinTimeout bounds how long the job runner's RQ pop ever
	// blocks in one iteration (spec.md §4.14 step 1).
	JobRunnerMinTimeout time.Duration `json:"-"`

	// RQSize/SQSize size the bounded FIFOs (spec.md §4.5).
	RQSize int `json:"rq_size"`
	SQSize int `json:"sq_size"`

	// DedupCacheSize bounds the (from, id) LRU (spec.md §9 open question).
	DedupCacheSize int `json:"dedup_cache_size"`

	// Verbose is loaded and saved with the config file, but no component
	// reads it: the logger's minimum severity stays at its default
	// (Info) unless nlog.SetVerbose is called directly.
	Verbose bool `json:"verbose"`

	millis millisConfig
}

// millisConfig mirrors Config's duration fields in wire units, used
// only for (de)serialization; Config.Duration fields are populated from
// it after decode and flattened into it before encode.
type millisConfig struct {
	SearchProbeIntervalMS  int64 `json:"search_probe_interval_ms"`
	FirstParentWaitMS      int64 `json:"first_parent_wait_ms"`
	ConnectTimeoutMS       int64 `json:"connect_timeout_ms"`
	StatusSendIntervalMS   int64 `json:"status_send_interval_ms"`
	KeepAliveTimeoutMS     int64 `json:"keep_alive_timeout_ms"`
	RootUnreachableGraceMS int64 `json:"root_unreachable_grace_ms"`
	FragmentTimeoutMS      int64 `json:"fragment_timeout_ms"`
	JobRunnerMinTimeoutMS  int64 `json:"job_runner_min_timeout_ms"`
}

// Default returns the tunables the original source hard-codes as
// compile-time constants (original_source/.../job/connect.cpp,
// keep_alive.cpp, fragment_gc.cpp), translated from FreeRTOS ticks to
// time.Duration.
func Default() Config {
	return Config{
		MaxChildren:          10,
		MinChannel:           1,
		MaxChannel:           11,
		MaxParentsToConsider: 5,
		SearchProbeInterval:  50 * time.Millisecond,
		ProbesPerChannel:     3,
		FirstParentWait:      3 * time.Second,
		ConnectTimeout:       1 * time.Second,
		StatusSendInterval:   500 * time.Millisecond,
		KeepAliveTimeout:     2 * time.Second,
		RootUnreachableGrace: 10 * time.Second,
		FragmentTimeout:      3 * time.Second,
		JobRunnerMinTimeout:  1 * time.Second,
		RQSize:               32,
		SQSize:               32,
		DedupCacheSize:       64,
	}
}

// Load reads path as JSON over Default()'s values — an absent or empty
// path simply returns the defaults, matching spec.md §2.4's "a config
// file is optional."
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "config: reading %s", path)
	}

	cfg.millis = cfg.toMillis()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parsing %s", path)
	}
	if err := json.Unmarshal(data, &cfg.millis); err != nil {
		return cfg, errors.Wrapf(err, "config: parsing %s", path)
	}
	cfg.fromMillis(cfg.millis)
	return cfg, nil
}

func (c Config) toMillis() millisConfig {
	return millisConfig{
		SearchProbeIntervalMS:  c.SearchProbeInterval.Milliseconds(),
		FirstParentWaitMS:      c.FirstParentWait.Milliseconds(),
		ConnectTimeoutMS:       c.ConnectTimeout.Milliseconds(),
		StatusSendIntervalMS:   c.StatusSendInterval.Milliseconds(),
		KeepAliveTimeoutMS:     c.KeepAliveTimeout.Milliseconds(),
		RootUnreachableGraceMS: c.RootUnreachableGrace.Milliseconds(),
		FragmentTimeoutMS:      c.FragmentTimeout.Milliseconds(),
		JobRunnerMinTimeoutMS:  c.JobRunnerMinTimeout.Milliseconds(),
	}
}

func (c *Config) fromMillis(m millisConfig) {
	c.SearchProbeInterval = time.Duration(m.SearchProbeIntervalMS) * time.Millisecond
	c.FirstParentWait = time.Duration(m.FirstParentWaitMS) * time.Millisecond
	c.ConnectTimeout = time.Duration(m.ConnectTimeoutMS) * time.Millisecond
	c.StatusSendInterval = time.Duration(m.StatusSendIntervalMS) * time.Millisecond
	c.KeepAliveTimeout = time.Duration(m.KeepAliveTimeoutMS) * time.Millisecond
	c.RootUnreachableGrace = time.Duration(m.RootUnreachableGraceMS) * time.Millisecond
	c.FragmentTimeout = time.Duration(m.FragmentTimeoutMS) * time.Millisecond
	c.JobRunnerMinTimeout = time.Duration(m.JobRunnerMinTimeoutMS) * time.Millisecond
}

// Validate catches config misuse early rather than letting it surface
// as confusing runtime behavior deep in the job package. Every failing
// check is collected rather than returning on the first, so a deployer
// fixing a bad config file sees every problem in one pass.
func (c Config) Validate() error {
	var errs cos.Errs
	if c.MinChannel <= 0 || c.MaxChannel < c.MinChannel {
		errs.Add(errors.New("config: invalid channel range"))
	}
	if c.MaxChildren <= 0 {
		errs.Add(errors.New("config: max_children must be positive"))
	}
	if c.MaxParentsToConsider <= 0 {
		errs.Add(errors.New("config: max_parents_to_consider must be positive"))
	}
	if errs.Cnt() == 0 {
		return nil
	}
	return &errs
}
