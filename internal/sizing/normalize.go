package sizing

import (
	"errors"
	"fmt"
	"math"

	"arber/internal/venue"
)

// ErrSizeBelowMinimum 表示请求数量无法同时满足两个交易所的
// 最小数量或最小名义价值要求。
var ErrSizeBelowMinimum = errors.New("sizing: size below venue minimums")

// Plan 为归一化结果。Quantity 是两个交易所都能接受的数量，
// Shortfall 是被约束裁掉的剩余部分，始终显式给出，由调用方
// 决定继续、补单还是放弃。
type Plan struct {
	Quantity  float64
	StepSize  float64
	Shortfall float64
}

// Normalize 在两个交易所的约束下计算不超过 totalSize 的最大
// 可成交数量。结果必须是较粗步长的整数倍，并同时满足两侧的
// 最小数量与最小名义价值。纯函数，相同输入恒返回相同计划。
func Normalize(totalSize float64, long, short venue.Constraints, longPrice, shortPrice float64) (Plan, error) {
	if totalSize <= 0 {
		return Plan{}, fmt.Errorf("%w: total size %.8f", ErrSizeBelowMinimum, totalSize)
	}

	step := math.Max(long.StepSize, short.StepSize)
	if step <= 0 {
		step = totalSize
	}

	// 浮点除法会在恰好整除时产出 3.9999… 这类结果，补一个
	// 远小于任何实际步长的余量再取整。
	units := math.Floor(totalSize/step + 1e-9)
	quantity := roundToStep(units*step, step)

	for quantity > 0 {
		if satisfies(quantity, long, longPrice) && satisfies(quantity, short, shortPrice) {
			shortfall := totalSize - quantity
			if shortfall < 0 || shortfall < step*1e-9 {
				shortfall = 0
			}
			return Plan{Quantity: quantity, StepSize: step, Shortfall: shortfall}, nil
		}
		// 数量不足下限时继续缩小只会更糟，直接失败。
		break
	}

	return Plan{}, fmt.Errorf("%w: total size %.8f, step %.8f", ErrSizeBelowMinimum, totalSize, step)
}

func satisfies(quantity float64, c venue.Constraints, price float64) bool {
	if c.MinSize > 0 && quantity < c.MinSize-1e-12 {
		return false
	}
	if c.MinNotional > 0 && price > 0 && quantity*price < c.MinNotional-1e-9 {
		return false
	}
	return true
}

// roundToStep 把数量对齐到步长的整数倍，消除浮点尘埃。
func roundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	units := math.Round(quantity / step)
	aligned := units * step
	// 按步长的小数位数重新格式化，避免 0.30000000000000004。
	decimals := 0
	for s := step; s < 1 && decimals < 12; s *= 10 {
		decimals++
	}
	factor := math.Pow(10, float64(decimals))
	return math.Round(aligned*factor) / factor
}
