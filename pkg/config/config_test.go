package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChicagoDave/parcelgen/pkg/cache"
	"github.com/ChicagoDave/parcelgen/pkg/density"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.MapElites.PopRange)
	assert.Equal(t, 10, cfg.MapElites.MaxPerCell)
	assert.Equal(t, 200, cfg.MapElites.Generations)
	assert.Equal(t, 0.1, cfg.MapElites.MutationRate)
	assert.Equal(t, 0.35, cfg.MapElites.SimilarityThreshold)
	assert.Equal(t, 0.8, cfg.MapElites.SimilarityRange)
	assert.Equal(t, 0.4, cfg.Footprint.TargetRatio)
	assert.Equal(t, 1.5, cfg.Footprint.Growth)
	assert.Equal(t, 1.0, cfg.Fitness.Penalty)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "parcelgen.yaml", `
seed: 42
mapelites:
  pop_range: 6
  generations: 50
  deadline: 30s
parcels:
  neighbors: nearest
  k: 4
cache:
  backend: memory
log:
  level: debug
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 6, cfg.MapElites.PopRange)
	assert.Equal(t, 50, cfg.MapElites.Generations)
	assert.Equal(t, 30*time.Second, cfg.MapElites.Deadline)
	// Unset fields keep their defaults.
	assert.Equal(t, 10, cfg.MapElites.MaxPerCell)
	assert.Equal(t, "nearest", cfg.Parcels.Neighbors)
	assert.Equal(t, 4, cfg.Parcels.K)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/parcelgen.yaml", "")
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
mapelites:
  pop_range: 0
fitness:
  low: 1.5
  high: 1.2
`)
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PopRange")
	assert.Contains(t, err.Error(), "High")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARCELGEN_GENERATIONS", "7")
	t.Setenv("PARCELGEN_DEADLINE", "2m")
	t.Setenv("PARCELGEN_CACHE_BACKEND", "redis")
	t.Setenv("PARCELGEN_REDIS_ADDR", "localhost:6379")
	t.Setenv("PARCELGEN_LOG_LEVEL", "warn")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MapElites.Generations)
	assert.Equal(t, 2*time.Minute, cfg.MapElites.Deadline)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("PARCELGEN_WORKERS", "many")
	_, err := Load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PARCELGEN_WORKERS")
}

func TestDotEnvFile(t *testing.T) {
	require.NoError(t, os.Unsetenv("PARCELGEN_SEED"))
	t.Cleanup(func() { os.Unsetenv("PARCELGEN_SEED") })

	env := writeFile(t, ".env", "PARCELGEN_SEED=99\n")
	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cfg.Seed)

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestFitnessProblem(t *testing.T) {
	f := Fitness{Penalty: 2, Low: 0.5, High: 1.5}
	p := f.Problem(density.Problem{Areas: []float64{1}})
	assert.Equal(t, 2.0, p.Penalty)
	assert.Equal(t, 0.5, p.Low)
	assert.Equal(t, 1.5, p.High)
}

func TestCacheOpen(t *testing.T) {
	c, closer, err := Cache{Backend: "none"}.Open()
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, closer())

	c, _, err = Cache{Backend: "memory"}.Open()
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, c)

	c, _, err = Cache{Backend: "file", Dir: t.TempDir()}.Open()
	require.NoError(t, err)
	assert.IsType(t, &cache.FileCache{}, c)

	c, closer, err = Cache{Backend: "redis", RedisAddr: "127.0.0.1:1"}.Open()
	require.NoError(t, err)
	assert.IsType(t, &cache.RedisCache{}, c)
	assert.NoError(t, closer())

	_, _, err = Cache{Backend: "s3"}.Open()
	assert.Error(t, err)
}
