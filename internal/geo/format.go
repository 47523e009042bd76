package geo

import (
	"fmt"
	"math"
)

// 展示文案
const (
	Unknown     = "Unknown"
	Calculating = "Calculating…"
)

// 文档注释：距离展示格式化
// 背景：不足 1 千米时按米取整展示，否则按千米保留一位小数；nil 表示未解析或无法解析。
// 约束：不会把缺失距离展示为 0。
func FormatDistance(km *float64) string {
	if km == nil || math.IsNaN(*km) || *km < 0 {
		return Unknown
	}
	d := *km
	if d < 1 {
		return fmt.Sprintf("%.0fm", math.Round(d*1000))
	}
	return fmt.Sprintf("%.1fkm", d)
}

// Distance：展示层的距离状态，Pending 为计算中的瞬时状态，不落库
type Distance struct {
	Km      *float64
	Pending bool
}

func (d Distance) String() string {
	if d.Pending {
		return Calculating
	}
	return FormatDistance(d.Km)
}
