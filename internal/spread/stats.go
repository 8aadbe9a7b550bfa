package spread

import (
	"github.com/markcheno/go-talib"
)

// Window 维护最近 N 个价差值，用于行情展示时的滚动统计。
// 只做描述性统计，不参与任何交易决策。
type Window struct {
	values []float64
	cap    int
}

// Summary 为一个窗口的滚动统计。
type Summary struct {
	Count int
	Last  float64
	Mean  float64
	Min   float64
	Max   float64
}

// NewWindow 创建容量为 capacity 的滚动窗口。
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 60
	}
	return &Window{
		values: make([]float64, 0, capacity),
		cap:    capacity,
	}
}

// Add 追加一个价差值，超出容量时淘汰最旧的。
func (w *Window) Add(spread float64) {
	if len(w.values) == w.cap {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.cap-1]
	}
	w.values = append(w.values, spread)
}

// Summary 计算当前窗口的统计值。窗口为空时返回零值。
func (w *Window) Summary() Summary {
	n := len(w.values)
	if n == 0 {
		return Summary{}
	}

	s := Summary{
		Count: n,
		Last:  w.values[n-1],
	}

	if n == 1 {
		s.Mean, s.Min, s.Max = s.Last, s.Last, s.Last
		return s
	}

	// talib 的输出与输入等长，末位即完整窗口上的结果。
	sma := talib.Sma(w.values, n)
	lows := talib.Min(w.values, n)
	highs := talib.Max(w.values, n)
	s.Mean = sma[n-1]
	s.Min = lows[n-1]
	s.Max = highs[n-1]

	return s
}
