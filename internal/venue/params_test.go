package venue

import (
	"reflect"
	"testing"
)

func TestOrderParams_Hedged(t *testing.T) {
	cases := []struct {
		venue   string
		side    PositionSide
		closing bool
		want    map[string]interface{}
	}{
		{NameBinanceUSDM, PositionLong, false, map[string]interface{}{"positionSide": "long"}},
		{NameBinanceUSDM, PositionShort, true, map[string]interface{}{"positionSide": "short"}},
		{NameBybit, PositionLong, false, map[string]interface{}{"positionIdx": 1}},
		{NameBybit, PositionShort, false, map[string]interface{}{"positionIdx": 2}},
		{NameBitget, PositionLong, false, map[string]interface{}{"hedged": true}},
		{NameBitget, PositionShort, true, map[string]interface{}{"hedged": true, "reduceOnly": true}},
		{NamePhemex, PositionLong, false, map[string]interface{}{"posSide": "Long"}},
		{NamePhemex, PositionShort, true, map[string]interface{}{"posSide": "Short"}},
		{NameMexc, PositionLong, false, map[string]interface{}{}},
	}

	for _, tc := range cases {
		got := OrderParams(tc.venue, true, tc.closing, tc.side)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("OrderParams(%s, hedged, closing=%v, %s) = %v, want %v",
				tc.venue, tc.closing, tc.side, got, tc.want)
		}
	}
}

func TestOrderParams_OneWay(t *testing.T) {
	open := OrderParams(NameBinanceUSDM, false, false, PositionLong)
	if len(open) != 0 {
		t.Errorf("expected empty params when opening one-way, got %v", open)
	}

	closing := OrderParams(NameBybit, false, true, PositionShort)
	if v, ok := closing["reduceOnly"]; !ok || v != true {
		t.Errorf("expected reduceOnly=true when closing one-way, got %v", closing)
	}
}
