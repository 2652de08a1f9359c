package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personaYAML = `
personas:
  steady:
    prompt: "稳健型交易员，只在趋势明确时开仓"
    risk_appetite: low
    max_leverage: 5
    max_margin_pct: 0.2
  degen:
    prompt: "激进型交易员"
`

func writePersonaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPersonaLoaderLoads(t *testing.T) {
	l, err := NewPersonaLoader(writePersonaFile(t, personaYAML))
	require.NoError(t, err)

	def, ok := l.Persona("steady")
	require.True(t, ok)
	assert.Equal(t, "steady", def.Name)
	assert.Equal(t, 5, def.MaxLeverage)

	rendered := def.Render()
	assert.Contains(t, rendered, "稳健型交易员")
	assert.Contains(t, rendered, "杠杆不超过 5 倍")
	assert.Contains(t, rendered, "20%")

	_, ok = l.Persona("missing")
	assert.False(t, ok)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Personas, 2)
}

func TestPersonaLoaderRejectsEmptyPrompt(t *testing.T) {
	_, err := NewPersonaLoader(writePersonaFile(t, `
personas:
  broken:
    risk_appetite: low
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing prompt")
}

func TestPersonaLoaderRejectsEmptyFile(t *testing.T) {
	_, err := NewPersonaLoader(writePersonaFile(t, "other: 1\n"))
	require.Error(t, err)
}
