package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"ETHUSDT", "ETH", "USDT"},
		{"SOLUSDC", "SOL", "USDC"},
		{" DOGE/USDT ", "DOGE", "USDT"},
		{"", "", ""},
		{"USDT", "", ""},
	}
	for _, tc := range cases {
		got := Parse(tc.in)
		assert.Equal(t, tc.base, got.Base, tc.in)
		assert.Equal(t, tc.quote, got.Quote, tc.in)
	}
}

func TestNormalizeAndExchange(t *testing.T) {
	assert.Equal(t, "BTC/USDT", Normalize("btcusdt"))
	assert.Equal(t, "", Normalize("???"))
	assert.Equal(t, "BTCUSDT", ToExchange("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", ToExchange("ethusdt"))
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"btc/usdt", "BTCUSDT", "eth/usdt", "", "bogus"})
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, got)
	assert.Nil(t, NormalizeList(nil))
}
