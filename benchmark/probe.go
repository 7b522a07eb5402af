package benchmark

import (
	"context"
	"time"
)

// TimeOperation runs op once and returns its result with the elapsed wall-clock time in
// milliseconds, including serialization and the round trip. The timing of a failed
// operation is discarded: the error is returned with zero elapsed time.
func TimeOperation[T any](ctx context.Context, op func(context.Context) (T, error)) (T, float64, error) {
	start := time.Now()
	res, err := op(ctx)
	elapsed := time.Since(start)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return res, Milliseconds(elapsed), nil
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMilliseconds(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
