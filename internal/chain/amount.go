package chain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AtomicPerAMA 是 1 AMA 对应的最小单位数量。
const AtomicPerAMA = 1_000_000_000

// ToAtomic 将 AMA 金额转换为最小单位，四舍五入到整数。
func ToAtomic(amount float64) uint64 {
	return uint64(math.Round(amount * AtomicPerAMA))
}

// FromAtomic 将最小单位转换回 AMA 金额。
func FromAtomic(atomic uint64) float64 {
	return float64(atomic) / AtomicPerAMA
}

// FormatAMA 以固定四位小数格式化金额，用于面向用户的展示。
func FormatAMA(amount float64) string {
	return fmt.Sprintf("%.4f", amount)
}

// ParseAmount 解析用户输入的金额，要求为正数。
func ParseAmount(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("金额格式不正确: %q", raw)
	}
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("金额必须为正数: %q", raw)
	}
	return value, nil
}
