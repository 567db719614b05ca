// Package config loads run configuration from YAML with PARCELGEN_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChicagoDave/parcelgen/pkg/cache"
	"github.com/ChicagoDave/parcelgen/pkg/density"
	"github.com/ChicagoDave/parcelgen/pkg/footprint"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
	"github.com/ChicagoDave/parcelgen/pkg/mapelites"
	"github.com/ChicagoDave/parcelgen/pkg/parcel"
	"github.com/ChicagoDave/parcelgen/pkg/partition"
	"github.com/ChicagoDave/parcelgen/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PARCELGEN_"

// Fitness holds the density-error band and penalty.
type Fitness struct {
	Penalty float64 `yaml:"penalty" json:"penalty" validate:"gte=0"`
	Low     float64 `yaml:"low" json:"low" validate:"gte=0"`
	High    float64 `yaml:"high" json:"high" validate:"gtefield=Low"`
}

// Cache selects where intermediate results are kept.
type Cache struct {
	Backend       string        `yaml:"backend" json:"backend" validate:"oneof=none memory file redis"`
	Dir           string        `yaml:"dir" json:"dir" validate:"required_if=Backend file"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	Prefix        string        `yaml:"prefix" json:"prefix"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"gte=0"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr         string        `yaml:"addr" json:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// AllowedOrigins lists the CORS origins the API answers.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// MaxGenerations caps the generations a single API request may ask for.
	MaxGenerations int `yaml:"max_generations" json:"max_generations" validate:"gte=0"`
}

// Config is the complete run configuration.
type Config struct {
	Seed      uint64           `yaml:"seed" json:"seed"`
	Partition partition.Config `yaml:"partition" json:"partition"`
	Footprint footprint.Config `yaml:"footprint" json:"footprint"`
	Fitness   Fitness          `yaml:"fitness" json:"fitness"`
	MapElites mapelites.Config `yaml:"mapelites" json:"mapelites"`
	Parcels   parcel.Options   `yaml:"parcels" json:"parcels"`
	Cache     Cache            `yaml:"cache" json:"cache"`
	Server    Server           `yaml:"server" json:"server"`
	Log       logging.Config   `yaml:"log" json:"log"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Seed:      1,
		Partition: partition.DefaultConfig(),
		Footprint: footprint.DefaultConfig(),
		Fitness: Fitness{
			Penalty: density.DefaultPenalty,
			Low:     density.DefaultLow,
			High:    density.DefaultHigh,
		},
		MapElites: mapelites.DefaultConfig(),
		Parcels:   parcel.DefaultOptions(),
		Cache: Cache{
			Backend: "file",
			Dir:     ".parcelgen-cache",
			Prefix:  "parcelgen:",
		},
		Server: Server{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
			AllowedOrigins: []string{"*"},
			MaxGenerations: 1000,
		},
		Log: logging.Config{Level: "info"},
	}
}

// Load builds a configuration from the defaults, the YAML file at path
// (skipped when empty), the dotenv file at envFile (skipped when empty or
// missing) and the process environment, in that order, then validates it.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every struct tag and the search parameters.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c).Err(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.MapElites.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(name string, set func(string) error) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return err
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	parse("LOG_DEVELOPMENT", func(v string) (err error) {
		c.Log.Development, err = strconv.ParseBool(v)
		return err
	})
	parse("SEED", func(v string) (err error) {
		c.Seed, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("GENERATIONS", integer(&c.MapElites.Generations))
	parse("WORKERS", integer(&c.MapElites.Workers))
	parse("MAX_BUILDINGS", float(&c.MapElites.MaxBuildings))
	parse("DEADLINE", duration(&c.MapElites.Deadline))
	str("SIMILARITY", &c.MapElites.Similarity)
	str("NEIGHBORS", &c.Parcels.Neighbors)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("CACHE_DIR", &c.Cache.Dir)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	str("REDIS_PASSWORD", &c.Cache.RedisPassword)
	parse("REDIS_DB", integer(&c.Cache.RedisDB))
	parse("CACHE_TTL", duration(&c.Cache.TTL))
	str("SERVER_ADDR", &c.Server.Addr)
	return errors.Join(errs...)
}

// Problem applies the fitness settings to a problem built from parcels.
func (f Fitness) Problem(p density.Problem) density.Problem {
	p.Penalty, p.Low, p.High = f.Penalty, f.Low, f.High
	return p
}

// Open returns the configured cache. The closer releases the Redis client
// and is a no-op for the other backends.
func (c Cache) Open() (cache.Cache, func() error, error) {
	nop := func() error { return nil }
	switch c.Backend {
	case "none", "":
		return nil, nop, nil
	case "memory":
		return cache.NewMemory(), nop, nil
	case "file":
		fc, err := cache.NewFileCache(c.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file cache: %w", err)
		}
		return fc, nop, nil
	case "redis":
		rc := cache.OpenRedis(c.RedisAddr, c.RedisPassword, c.RedisDB, c.Prefix, c.TTL)
		return rc, rc.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", c.Backend)
}
