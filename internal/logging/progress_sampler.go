package logging

// StreamSampler throttles debug logging of streamed output. It reports true
// the first time and then each time the streamed length crosses another
// multiple of the step.
type StreamSampler struct {
	step       int
	lastBucket int
}

// NewStreamSampler constructs a sampler with the given step in characters
// (default 256).
func NewStreamSampler(step int) *StreamSampler {
	if step <= 0 {
		step = 256
	}
	return &StreamSampler{step: step, lastBucket: -1}
}

// ShouldLog reports whether a partial of the given length should be logged.
func (s *StreamSampler) ShouldLog(length int) bool {
	if s == nil {
		return true
	}
	if length < 0 {
		length = 0
	}
	bucket := length / s.step
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state for the next item.
func (s *StreamSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = -1
}
