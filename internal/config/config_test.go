package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const baseConfig = `
app:
  log_level: debug
oracle:
  api_url: https://api.example.com/v1
  api_key: sk-test
  model: test-model
bots:
  - id: alpha
    persona: "稳健型，只做趋势"
    symbols: ["btc/usdt", "ETH/USDT"]
    interval: 1h
    initial_balance: 5000
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8880", cfg.App.HTTPAddr)
	assert.Equal(t, "https://fapi.binance.com", cfg.Market.RESTBaseURL)
	assert.Equal(t, 5, cfg.Protocol.MaxRounds)
	assert.Equal(t, 10, cfg.Protocol.CallTimeoutSeconds)
	assert.Equal(t, 30, cfg.Protocol.CycleBudgetSeconds)

	require.Len(t, cfg.Bots, 1)
	b := cfg.Bots[0]
	assert.Equal(t, "alpha", b.Name) // name 缺省取 id
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, b.Symbols)
	assert.Equal(t, 5000.0, b.InitialBalance)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "oracle.yaml", `
oracle:
  api_url: https://api.example.com/v1
  api_key: sk-from-include
  model: test-model
`)
	main := writeFile(t, dir, "config.yaml", `
include:
  - oracle.yaml
bots:
  - id: alpha
    persona: "激进型"
    symbols: ["BTC/USDT"]
    interval: 4h
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-include", cfg.Oracle.APIKey)
	assert.Equal(t, "4h", cfg.Bots[0].Interval)
}

func TestLoadRejectsMissingOracle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
bots:
  - id: alpha
    persona: x
    symbols: ["BTC/USDT"]
    interval: 1h
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle.api_url")
}

func TestLoadRejectsDuplicateBotID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
oracle:
  api_url: https://api.example.com/v1
  model: m
bots:
  - id: alpha
    persona: x
    symbols: ["BTC/USDT"]
    interval: 1h
  - id: alpha
    persona: y
    symbols: ["ETH/USDT"]
    interval: 1h
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestLoadRejectsBadInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
oracle:
  api_url: https://api.example.com/v1
  model: m
bots:
  - id: alpha
    persona: x
    symbols: ["BTC/USDT"]
    interval: 90x
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid interval")
}

func TestLoadRejectsPersonaFileWithoutKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
oracle:
  api_url: https://api.example.com/v1
  model: m
bots:
  - id: alpha
    persona_file: personas.yaml
    symbols: ["BTC/USDT"]
    interval: 1h
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persona_key")
}
