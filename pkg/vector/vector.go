// Package vector содержит чистые операции над embedding-векторами:
// L2-нормализацию и косинусное сходство.
package vector

import (
	"math"

	"github.com/snapshop-tech/go-backend/pkg/e"
)

// Normalize приводит вектор к единичной длине (L2-норма = 1).
// Нулевой вектор возвращается без изменений: деление на нулевую норму
// не должно портить embedding. Всегда возвращает новый слайс.
func Normalize(v []float32) []float32 {
	result := make([]float32, len(v))
	copy(result, v)

	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sum)
	if magnitude == 0 {
		return result
	}

	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}

	return result
}

// CosineSimilarity вычисляет косинусное сходство dot(a,b)/(‖a‖·‖b‖).
// Нормы пересчитываются всегда: функция обязана оставаться корректной
// и для ненормализованных векторов. Векторы разной длины — признак
// рассинхронизации каталога и модели, возвращается e.ErrDimensionMismatch.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, e.ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
