// Package calibration implements the START/STOP window controller used to
// derive the wheel diameter from a ride over a known distance.
package calibration

import (
	"log"
	"sync"

	"github.com/sweeney/speedometer/internal/logic"
)

// Command tokens accepted from the telemetry surface.
const (
	CommandStart = "START"
	CommandStop  = "STOP"
)

// WindowTimer is the resettable timer that measures the window.
type WindowTimer interface {
	Now() uint64
	Reset()
	Start()
	Pause()
}

// WindowStore receives every window change. status.Tracker implements it.
type WindowStore interface {
	SetWindow(w logic.Window)
}

// Controller owns the calibration window boundaries and the active flag.
// The estimator turns a closed window into a diameter.
type Controller struct {
	mu     sync.Mutex
	timer  WindowTimer
	store  WindowStore
	window logic.Window
}

// NewController creates a controller with a closed window.
func NewController(timer WindowTimer, store WindowStore) *Controller {
	return &Controller{timer: timer, store: store}
}

// Start opens a new window. Starting while a window is open restarts it.
func (c *Controller) Start() logic.Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window.Active {
		log.Printf("calibration: restarting open window")
	}
	c.timer.Reset()
	c.timer.Start()

	c.window = logic.Window{
		Active:     true,
		Generation: c.window.Generation + 1,
		StartMs:    c.timer.Now() / 1000,
	}
	c.store.SetWindow(c.window)
	log.Printf("calibration: window %d started", c.window.Generation)
	return c.window
}

// Stop closes the open window and records its duration. Stopping without an
// open window is a no-op and reports false.
func (c *Controller) Stop() (logic.Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.window.Active {
		log.Printf("calibration: stop ignored, no open window")
		return c.window, false
	}

	stopMs := c.timer.Now() / 1000
	c.timer.Pause()

	elapsed := uint64(0)
	if stopMs > c.window.StartMs {
		elapsed = stopMs - c.window.StartMs
	}
	c.window.Active = false
	c.window.DurationMs = elapsed
	c.store.SetWindow(c.window)
	log.Printf("calibration: window %d stopped after %d ms", c.window.Generation, elapsed)
	return c.window, true
}

// Handle executes a command token. Unknown payloads are logged and ignored.
// It reports whether the payload was a known command.
func (c *Controller) Handle(payload string) bool {
	switch payload {
	case CommandStart:
		c.Start()
		return true
	case CommandStop:
		c.Stop()
		return true
	default:
		log.Printf("calibration: ignoring command %q", payload)
		return false
	}
}

// Window returns the current window.
func (c *Controller) Window() logic.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}
