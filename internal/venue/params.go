package venue

// 支持的交易所标识，与 ccxt 的交易所 id 保持一致。
const (
	NameBinanceUSDM = "binanceusdm"
	NameBybit       = "bybit"
	NameBitget      = "bitget"
	NamePhemex      = "phemex"
	NameMexc        = "mexc"
)

// SupportedVenues 列出全部受支持的交易所标识。
func SupportedVenues() []string {
	return []string{NameBinanceUSDM, NameBybit, NameBitget, NamePhemex, NameMexc}
}

// OrderParams 按交易所推导委托附加参数。
// 对冲模式账户需要显式声明持仓方向，各交易所的字段各不相同；
// 单向持仓账户在平仓时只需 reduceOnly。
func OrderParams(venueName string, hedged bool, closing bool, side PositionSide) map[string]interface{} {
	if !hedged {
		if closing {
			return map[string]interface{}{"reduceOnly": true}
		}
		return map[string]interface{}{}
	}

	switch venueName {
	case NameBinanceUSDM:
		return map[string]interface{}{"positionSide": string(side)}
	case NameBybit:
		idx := 1
		if side == PositionShort {
			idx = 2
		}
		return map[string]interface{}{"positionIdx": idx}
	case NameBitget:
		params := map[string]interface{}{"hedged": true}
		if closing {
			params["reduceOnly"] = true
		}
		return params
	case NamePhemex:
		posSide := "Long"
		if side == PositionShort {
			posSide = "Short"
		}
		return map[string]interface{}{"posSide": posSide}
	default:
		return map[string]interface{}{}
	}
}
