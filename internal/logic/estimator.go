package logic

import "github.com/chewxy/math32"

// EstimatorConfig holds the tunables of the RPM/speed estimator.
type EstimatorConfig struct {
	TimeoutMs uint64  // period readings older than this count as no data
	DistanceM float32 // length of the calibration course
}

// Tick is everything the estimator reads on one cadence tick.
type Tick struct {
	Period Period
	NowMs  uint64
	Window Window
}

// Result is what one tick produced.
type Result struct {
	Speed       Speed
	Diameter    float32
	Accumulator Accumulator
	// Calibration is set only on the tick that closed a window.
	Calibration *Calibration
	// Discarded is the generation of a window whose samples were dropped
	// unfinalized because a newer window replaced it, 0 otherwise.
	Discarded uint64
}

// Estimator converts the latest period into RPM and speed, and doubles as
// the calibration accumulator and finalizer.
type Estimator struct {
	cfg        EstimatorConfig
	diameter   float32
	acc        Accumulator
	pending    bool
	generation uint64
}

// NewEstimator creates an estimator with an unknown diameter.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = DefaultTimeoutMs
	}
	return &Estimator{cfg: cfg}
}

// Tick runs one estimation step. A window closed since the previous tick is
// finalized first, so the closing tick already reports the new diameter.
func (e *Estimator) Tick(in Tick) Result {
	rpm := uint32(0)
	if in.Period.Ms > 0 && age(in.NowMs, in.Period.UpdatedMs) < e.cfg.TimeoutMs {
		rpm = RPM(in.Period.Ms)
	}

	var res Result
	if in.Window.Active {
		res.Discarded = e.accumulate(rpm, in.Window.Generation)
	} else if e.pending {
		c := Finalize(e.acc, in.Window.DurationMs, e.cfg.DistanceM)
		if c.OK {
			e.diameter = c.Diameter
		}
		e.acc = Accumulator{}
		e.pending = false
		res.Calibration = &c
	}

	res.Speed = Speed{
		RPM:           rpm,
		DiameterKnown: e.diameter != 0,
	}
	if res.Speed.DiameterKnown {
		res.Speed.Speed = LinearSpeed(rpm, e.diameter)
	}
	res.Diameter = e.diameter
	res.Accumulator = e.acc
	return res
}

// accumulate adds one sample to the open window. Stale zero readings are
// counted too. A new window generation discards the previous window's
// samples; the discarded generation is returned, 0 when none was.
func (e *Estimator) accumulate(rpm uint32, generation uint64) uint64 {
	var discarded uint64
	if !e.pending || generation != e.generation {
		if e.pending {
			discarded = e.generation
		}
		e.acc = Accumulator{}
		e.generation = generation
		e.pending = true
	}
	e.acc.Count++
	e.acc.Sum += rpm
	return discarded
}

// Diameter returns the calibrated wheel diameter in metres, 0 when unknown.
func (e *Estimator) Diameter() float32 {
	return e.diameter
}

func age(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}

// RPM converts a period in milliseconds into revolutions per minute,
// assuming one pulse per revolution. A zero period yields 0.
func RPM(periodMs uint32) uint32 {
	if periodMs == 0 {
		return 0
	}
	return 60000 / periodMs
}

// LinearSpeed returns km/h for a wheel of the given diameter in metres.
func LinearSpeed(rpm uint32, diameter float32) float32 {
	return float32(rpm) * math32.Pi * diameter / 60 * 3.6
}

// Finalize computes the calibration outcome for a closed window. The
// diameter is only valid when both the average RPM and the elapsed time are
// non-zero and the result is a positive finite number.
func Finalize(acc Accumulator, elapsedMs uint64, distanceM float32) Calibration {
	c := Calibration{
		Samples:   acc.Count,
		ElapsedMs: elapsedMs,
	}
	if acc.Count != 0 {
		c.AverageRPM = acc.Sum / acc.Count
	}
	if c.AverageRPM == 0 || elapsedMs == 0 {
		return c
	}

	seconds := float32(elapsedMs) / 1000
	d := (distanceM / seconds * 60) / (float32(c.AverageRPM) * math32.Pi)
	if math32.IsNaN(d) || math32.IsInf(d, 0) || d <= 0 {
		return c
	}
	c.Diameter = d
	c.OK = true
	return c
}
