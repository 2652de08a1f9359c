package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFencedArray(t *testing.T) {
	raw := "分析如下：\n```json\n[{\"action\":\"hold\",\"symbol\":\"BTC/USDT\"}]\n```\n完毕"
	out, kind := Extract(raw)
	assert.Equal(t, KindArray, kind)
	assert.Equal(t, `[{"action":"hold","symbol":"BTC/USDT"}]`, out)
}

func TestExtractBareObject(t *testing.T) {
	raw := `I need more data. {"tool":"rsi","parameters":{"symbol":"BTC/USDT","period":14}}`
	out, kind := Extract(raw)
	assert.Equal(t, KindObject, kind)
	assert.Contains(t, out, `"tool":"rsi"`)
}

func TestExtractObjectBeforeArray(t *testing.T) {
	raw := `{"tool":"statistics","parameters":{"values":[1,2,3]}}`
	out, kind := Extract(raw)
	assert.Equal(t, KindObject, kind)
	assert.Equal(t, raw, out)
}

func TestExtractEmptyArray(t *testing.T) {
	out, kind := Extract("nothing to do: []")
	assert.Equal(t, KindArray, kind)
	assert.Equal(t, "[]", out)
}

func TestExtractStringWithBrackets(t *testing.T) {
	raw := `[{"reasoning":"keep [BTC] level \"90{k}\" in mind","action":"hold"}]`
	out, kind := Extract(raw)
	assert.Equal(t, KindArray, kind)
	assert.Equal(t, raw, out)
}

func TestExtractNoJSON(t *testing.T) {
	_, kind := Extract("plain text without structure")
	assert.Equal(t, KindNone, kind)
}
