package venue

import "testing"

func TestDeriveSymbol(t *testing.T) {
	cases := []struct {
		venue string
		base  string
		want  string
	}{
		{NameBinanceUSDM, "BTC", "BTC/USDT:USDT"},
		{NameBybit, "eth", "ETH/USDT:USDT"},
		{NameBitget, " sol ", "SOL/USDT:USDT"},
		{NamePhemex, "DOGE", "DOGE/USDT:USDT"},
		{NameMexc, "BTC", "BTC/USDT"},
		{NameBybit, "BTC/USDT:USDT", "BTC/USDT:USDT"},
		{NameMexc, "ETH/USDC", "ETH/USDC"},
	}

	for _, tc := range cases {
		got, err := DeriveSymbol(tc.venue, tc.base)
		if err != nil {
			t.Errorf("DeriveSymbol(%s, %q) returned error: %v", tc.venue, tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DeriveSymbol(%s, %q) = %q, want %q", tc.venue, tc.base, got, tc.want)
		}
	}
}

func TestDeriveSymbol_Errors(t *testing.T) {
	if _, err := DeriveSymbol(NameBybit, ""); err == nil {
		t.Error("expected error for empty base")
	}
	if _, err := DeriveSymbol("kraken", "BTC"); err == nil {
		t.Error("expected error for unsupported venue")
	}
}

func TestBaseOf(t *testing.T) {
	cases := []struct {
		symbol string
		want   string
	}{
		{"BTC/USDT:USDT", "BTC"},
		{"eth/usdt", "ETH"},
		{"SOL", "SOL"},
	}
	for _, tc := range cases {
		if got := BaseOf(tc.symbol); got != tc.want {
			t.Errorf("BaseOf(%q) = %q, want %q", tc.symbol, got, tc.want)
		}
	}
}
