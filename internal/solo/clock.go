package solo

import (
	"context"
	"time"
)

// StartClock emits beat positions at subdivision ticks per beat until ctx
// is done, then closes the channel. A slow reader misses ticks rather than
// delaying the clock.
func StartClock(ctx context.Context, tempo float64, subdivision int) <-chan float64 {
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	if subdivision <= 0 {
		subdivision = DefaultQuantize
	}

	out := make(chan float64, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(beatInterval(tempo) / time.Duration(subdivision))
		defer ticker.Stop()

		step := 0
		for {
			beat := float64(step) / float64(subdivision)
			select {
			case out <- beat:
			case <-ctx.Done():
				return
			default:
			}
			step++

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
