package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessors(t *testing.T) {
	cfg := New(map[string]any{
		"name":    "webhooks",
		"debug":   true,
		"count":   3,
		"bigint":  int64(7),
		"whole":   float64(5),
		"frac":    2.5,
		"events":  []any{"session.idle", "agent.completed"},
		"headers": map[string]any{"Authorization": "Bearer x"},
	})

	assert.Equal(t, "webhooks", cfg.String("name", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))
	assert.Equal(t, "fallback", cfg.String("count", "fallback"))

	assert.True(t, cfg.Bool("debug", false))
	assert.False(t, cfg.Bool("missing", false))

	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 7, cfg.Int("bigint", 0))
	assert.Equal(t, 5, cfg.Int("whole", 0))
	assert.Equal(t, 9, cfg.Int("frac", 9))
	assert.Equal(t, 9, cfg.Int("missing", 9))

	assert.Equal(t, []string{"session.idle", "agent.completed"}, cfg.StringSlice("events", nil))
	assert.Nil(t, cfg.StringSlice("missing", nil))

	assert.Equal(t, map[string]string{"Authorization": "Bearer x"}, cfg.StringMap("headers", nil))
	assert.Nil(t, cfg.StringMap("count", nil))

	assert.True(t, cfg.Has("name"))
	assert.False(t, cfg.Has("missing"))
}

func TestMillis(t *testing.T) {
	cfg := New(map[string]any{
		"timeoutMs": 5000,
		"delayStr":  "2s",
		"delayDur":  3 * time.Second,
		"delayF":    1500.0,
		"bad":       "not a duration",
	})

	assert.Equal(t, 5*time.Second, cfg.Millis("timeoutMs", 0))
	assert.Equal(t, 2*time.Second, cfg.Millis("delayStr", 0))
	assert.Equal(t, 3*time.Second, cfg.Millis("delayDur", 0))
	assert.Equal(t, 1500*time.Millisecond, cfg.Millis("delayF", 0))
	assert.Equal(t, time.Minute, cfg.Millis("bad", time.Minute))
	assert.Equal(t, time.Minute, cfg.Millis("missing", time.Minute))
}

func TestSeconds(t *testing.T) {
	cfg := New(map[string]any{
		"idleDelaySecs": 5,
		"asString":      "90s",
	})

	assert.Equal(t, 5*time.Second, cfg.Seconds("idleDelaySecs", 0))
	assert.Equal(t, 90*time.Second, cfg.Seconds("asString", 0))
	assert.Equal(t, time.Second, cfg.Seconds("missing", time.Second))
}

func TestSections(t *testing.T) {
	cfg := New(map[string]any{
		"defaults": map[string]any{"timeoutMs": 1000},
		"destinations": []any{
			map[string]any{"url": "http://a.test"},
			"not a map",
			map[string]any{"url": "http://b.test"},
		},
	})

	assert.Equal(t, time.Second, cfg.Section("defaults").Millis("timeoutMs", 0))
	assert.False(t, cfg.Section("missing").Has("anything"))

	sections := cfg.Sections("destinations")
	require.Len(t, sections, 2)
	assert.Equal(t, "http://a.test", sections[0].String("url", ""))
	assert.Equal(t, "http://b.test", sections[1].String("url", ""))
	assert.Nil(t, cfg.Sections("defaults"))
}

func TestFromYAML(t *testing.T) {
	yamlData := []byte(`
debug: true
idleDelaySecs: 5
destinations:
  - url: https://hooks.example.com/notify
    events: [agent.completed]
`)
	cfg, err := FromYAML(yamlData)
	require.NoError(t, err)
	assert.True(t, cfg.Bool("debug", false))
	assert.Len(t, cfg.Sections("destinations"), 1)

	_, err = FromYAML([]byte("{invalid: [yaml"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"debug": true, "maxConcurrent": 4}`))
	require.NoError(t, err)
	assert.True(t, cfg.Bool("debug", false))
	assert.Equal(t, 4, cfg.Int("maxConcurrent", 0))

	_, err = FromJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "hooks.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("debug: true\n"), 0o644))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.True(t, cfg.Bool("debug", false))

	jsonPath := filepath.Join(dir, "hooks.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"debug": false}`), 0o644))
	cfg, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.False(t, cfg.Bool("debug", true))

	txtPath := filepath.Join(dir, "hooks.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("debug: true\n"), 0o644))
	_, err = FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = FromFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
