package venue

import (
	"fmt"
	"strings"
)

// DeriveSymbol 把基础币种映射为交易所的合约符号。
// 传入的已是完整符号（包含 "/"）时原样返回。
func DeriveSymbol(venueName, base string) (string, error) {
	if strings.Contains(base, "/") {
		return base, nil
	}

	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		return "", fmt.Errorf("venue: 币种不能为空")
	}

	switch venueName {
	case NameBinanceUSDM, NameBybit, NameBitget, NamePhemex:
		return base + "/USDT:USDT", nil
	case NameMexc:
		return base + "/USDT", nil
	default:
		return "", fmt.Errorf("venue: 不支持的交易所 %q", venueName)
	}
}

// BaseOf 从合约符号中取出基础币种，用于日志展示。
func BaseOf(symbol string) string {
	s := strings.TrimSpace(symbol)
	if idx := strings.Index(s, "/"); idx > 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	return strings.ToUpper(s)
}
