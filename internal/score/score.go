// Package score computes the authoritative score for a finished attempt.
// Client-reported scores are never used; the relay replays the run from the
// obstacle count and the elapsed time it measured itself.
package score

import "time"

const (
	// MaxSessionDuration caps the scoreable length of a single attempt.
	// Sessions that run longer (or were never closed) score as if they
	// ended exactly at the cap.
	MaxSessionDuration = 3 * time.Minute

	// Time is discretized into fixed frames; each frame contributes the
	// current speed to the distance total.
	frameMillis = 100

	// Speed ramps linearly from the floor to the ceiling over rampFrames
	// frames, then stays at the ceiling.
	speedFloor = 4
	speedCeil  = 12
	rampFrames = 600

	obstacleBonus   = 100
	distanceDivisor = 10
)

// Score maps (obstacle count, elapsed time) to the final score. It is a pure
// function of its inputs: same inputs, same score, bit for bit. All
// arithmetic is integral so replays reproduce exactly.
func Score(obstacles int, elapsed time.Duration) int64 {
	if obstacles < 0 {
		obstacles = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > MaxSessionDuration {
		elapsed = MaxSessionDuration
	}

	frames := elapsed.Milliseconds() / frameMillis

	var distance int64
	for i := int64(0); i < frames; i++ {
		speed := int64(speedFloor) + (speedCeil-speedFloor)*i/rampFrames
		if speed > speedCeil {
			speed = speedCeil
		}
		distance += speed
	}

	return distance/distanceDivisor + int64(obstacles)*obstacleBonus
}
