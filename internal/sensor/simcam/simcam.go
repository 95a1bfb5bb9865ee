// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package simcam is a simulated event camera. It produces a deterministic
// stream of synthetic events and is registered as the "sim" driver.
package simcam

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ManuGH/evsync/internal/event"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/topology"
)

// DriverName is the kind under which simcam registers itself.
const DriverName = "sim"

func init() {
	sensor.RegisterDriver(DriverName, Factory(Options{}))
}

// Options shapes the synthetic stream.
type Options struct {
	// Serial is reported when the node leaves its serial empty.
	Serial string
	Width  uint16
	Height uint16
	// SliceEvents events are delivered per callback, spread over SliceSpan of sensor time.
	SliceEvents int
	SliceSpan   time.Duration
	// Interval is the wall-clock pause between callbacks.
	Interval time.Duration
	// MaxSlices stops the stream after that many callbacks; zero streams until Stop.
	MaxSlices int
	// OnRatio is the share of ON polarity events, between 0 and 1.
	OnRatio float64
	Seed    int64

	ArmErr   error
	ArmDelay time.Duration
	// RuntimeErr is reported through OnRuntimeError after FailAfter
	// slices, and the stream ends.
	RuntimeErr error
	FailAfter  int
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 720
	}
	if o.SliceEvents <= 0 {
		o.SliceEvents = 200
	}
	if o.SliceSpan <= 0 {
		o.SliceSpan = 250 * time.Microsecond
	}
	if o.Interval <= 0 {
		o.Interval = time.Millisecond
	}
	if o.OnRatio <= 0 || o.OnRatio > 1 {
		o.OnRatio = 0.5
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	return o
}

// Camera implements sensor.Camera.
type Camera struct {
	opts Options

	mu       sync.Mutex
	armed    bool
	armCfg   sensor.ArmConfig
	serial   string
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	slices   int
	armCalls int
	onError  func(error)
}

var (
	_ sensor.Camera        = (*Camera)(nil)
	_ sensor.ErrorReporter = (*Camera)(nil)
)

func New(opts Options) *Camera {
	return &Camera{opts: opts.withDefaults()}
}

// Factory returns a CameraFactory that opens one simulated camera per node.
// A node without a serial gets one derived from its name.
func Factory(opts Options) sensor.CameraFactory {
	return sensor.CameraFactoryFunc(func(spec topology.NodeSpec) (sensor.Camera, error) {
		o := opts
		if o.Serial == "" {
			o.Serial = "sim-" + spec.Name
		}
		return New(o), nil
	})
}

func (c *Camera) Arm(ctx context.Context, cfg sensor.ArmConfig) (sensor.ArmInfo, error) {
	if c.opts.ArmDelay > 0 {
		select {
		case <-time.After(c.opts.ArmDelay):
		case <-ctx.Done():
			return sensor.ArmInfo{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.armCalls++
	if c.opts.ArmErr != nil {
		return sensor.ArmInfo{}, c.opts.ArmErr
	}
	if cfg.SyncMode == sensor.SyncSecondary && cfg.TriggerMode != topology.TriggerExternalIn {
		return sensor.ArmInfo{}, fmt.Errorf("secondary sync requires trigger mode %s, got %s", topology.TriggerExternalIn, cfg.TriggerMode)
	}

	info := sensor.ArmInfo{Serial: cfg.Serial}
	if info.Serial == "" {
		info.Serial = c.opts.Serial
	}
	if info.Serial == "" {
		info.Serial = "sim-0"
	}
	if cfg.BiasFile != "" {
		if _, err := os.Stat(cfg.BiasFile); err != nil {
			info.BiasWarning = fmt.Errorf("bias file %s: %w", cfg.BiasFile, err)
		}
	}

	c.armed = true
	c.armCfg = cfg
	c.serial = info.Serial
	return info, nil
}

func (c *Camera) Start(ctx context.Context, handler sensor.EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return errors.New("simcam: start before arm")
	}
	if c.running {
		return errors.New("simcam: already started")
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.stream(ctx, c.stopCh, handler)
	return nil
}

func (c *Camera) stream(ctx context.Context, stop <-chan struct{}, handler sensor.EventHandler) {
	defer c.wg.Done()

	rng := rand.New(rand.NewSource(c.opts.Seed))
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	span := c.opts.SliceSpan.Microseconds()
	n := c.opts.SliceEvents
	buf := make([]event.Event, n)
	var t int64
	for slice := 0; c.opts.MaxSlices == 0 || slice < c.opts.MaxSlices; slice++ {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range buf {
			p := event.PolarityOff
			if rng.Float64() < c.opts.OnRatio {
				p = event.PolarityOn
			}
			buf[i] = event.Event{
				T: t + int64(i)*span/int64(n),
				X: uint16(rng.Intn(int(c.opts.Width))),
				Y: uint16(rng.Intn(int(c.opts.Height))),
				P: p,
			}
		}
		t += span
		handler(buf)

		c.mu.Lock()
		c.slices++
		onError := c.onError
		c.mu.Unlock()

		if c.opts.RuntimeErr != nil && slice+1 >= c.opts.FailAfter {
			if onError != nil {
				onError(c.opts.RuntimeErr)
			}
			return
		}
	}
}

// OnRuntimeError registers the callback used for Options.RuntimeErr.
func (c *Camera) OnRuntimeError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Stop halts the stream and waits for the callback goroutine.
func (c *Camera) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// Armed returns the last arm configuration and whether Arm succeeded.
func (c *Camera) Armed() (sensor.ArmConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armCfg, c.armed
}

// Slices returns the number of callbacks delivered so far.
func (c *Camera) Slices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices
}

// ArmCalls returns how often Arm was called.
func (c *Camera) ArmCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armCalls
}
