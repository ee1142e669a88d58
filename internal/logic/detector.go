package logic

// Detector turns raw samples into rising-edge notifications using a
// threshold with a hysteresis band.
type Detector struct {
	threshold uint16
	low       uint16
	levels    map[uint8]Level
	edges     uint64
}

// NewDetector creates a detector that arms on values above threshold and
// re-arms on values below threshold-hysteresis. Only samples from the given
// channels are accepted; every channel starts BELOW.
func NewDetector(threshold, hysteresis uint16, channels ...uint8) *Detector {
	low := uint16(0)
	if hysteresis < threshold {
		low = threshold - hysteresis
	}
	levels := make(map[uint8]Level, len(channels))
	for _, ch := range channels {
		levels[ch] = LevelBelow
	}
	return &Detector{
		threshold: threshold,
		low:       low,
		levels:    levels,
	}
}

// Process feeds one sample through the state machine. It reports true on a
// BELOW->ABOVE transition. Samples from unknown channels return
// ErrInvalidChannel and leave all state untouched.
func (d *Detector) Process(s Sample) (bool, error) {
	level, ok := d.levels[s.Channel]
	if !ok {
		return false, ErrInvalidChannel
	}

	switch level {
	case LevelBelow:
		if s.Value > d.threshold {
			d.levels[s.Channel] = LevelAbove
			d.edges++
			return true, nil
		}
	case LevelAbove:
		if s.Value < d.low {
			d.levels[s.Channel] = LevelBelow
		}
	}
	return false, nil
}

// Level returns the arm state of a channel, or "" for unknown channels.
func (d *Detector) Level(channel uint8) Level {
	return d.levels[channel]
}

// Edges returns the number of rising edges seen since creation.
func (d *Detector) Edges() uint64 {
	return d.edges
}

// EdgeTimer converts rising-edge timestamps into periods.
type EdgeTimer struct {
	last uint64
	seen bool
}

// Edge records a rising edge at tUs microseconds. The second and later
// edges return the period since the previous edge. A timestamp that does
// not move forward restarts the pair instead of producing a negative period.
func (e *EdgeTimer) Edge(tUs uint64) (Period, bool) {
	if !e.seen || tUs <= e.last {
		e.last = tUs
		e.seen = true
		return Period{}, false
	}

	delta := tUs - e.last
	e.last = tUs
	return Period{
		Ms:        uint32(delta / 1000),
		UpdatedMs: tUs / 1000,
	}, true
}
