package core

import "math"

// 向量约定：系统内所有偏好向量与物品向量维度一致；偏好向量以 L2 归一化形式存储。

// Dot 计算内积；维度不一致时返回 0。
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Norm 计算 L2 范数。
func Norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// Normalize 返回 L2 归一化后的新向量；零向量原样返回（拷贝）。
func Normalize(v []float64) []float64 {
	out := CloneVector(v)
	n := Norm(out)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

// Cosine 计算余弦相似度；任一为零向量或维度不一致时返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// EuclideanDistance 计算欧氏距离；维度不一致时返回 +Inf。
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// AddScaled 执行 dst += scale * src（原地）。
func AddScaled(dst []float64, scale float64, src []float64) {
	for i := range dst {
		dst[i] += scale * src[i]
	}
}

// ZeroVector 返回 dim 维零向量。
func ZeroVector(dim int) []float64 {
	return make([]float64, dim)
}

// CloneVector 拷贝向量；nil 返回 nil。
func CloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// IsZero 判断是否为零向量。
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
