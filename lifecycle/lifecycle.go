// Package lifecycle tracks the install/initialize/run state of a managed
// cluster and drives its subsystems through ordered start and stop
// sequences. The machine is shared by every cluster kind: a kind supplies
// its subsystems (start, stop and optional readiness wait) and the machine
// supplies the ordering, idempotency and failure policy.
//
// The tracked state is a cache, not a source of truth: it does not survive
// process restarts, and controllers expose recovery paths for the case
// where it cannot be trusted.
package lifecycle

import (
	"context"

	"go.uber.org/zap"
)

// Subsystem is one managed service tier, e.g. the storage layer or the
// compute layer of a data-processing cluster.
type Subsystem struct {
	Name string

	// Start brings the subsystem up and blocks until the underlying
	// command exits. Failures abort the enclosing start sequence.
	Start func(ctx context.Context) error

	// Stop tears the subsystem down. Failures are downgraded to warnings
	// so that cleanup always proceeds.
	Stop func(ctx context.Context) error

	// Wait, if set, blocks until the subsystem reports ready. Used by the
	// waiting start variant.
	Wait func(ctx context.Context) error
}

type subsystemState struct {
	Subsystem
	running bool
}

// Machine is the lifecycle state machine. It is not goroutine-safe: one
// lifecycle operation runs to completion before the next begins, and
// callers must serialize access to one machine.
type Machine struct {
	log         *zap.SugaredLogger
	initialized bool
	subsystems  []*subsystemState
}

func New(log *zap.SugaredLogger, subsystems ...Subsystem) *Machine {
	m := &Machine{log: log.Named("lifecycle")}
	for _, s := range subsystems {
		m.subsystems = append(m.subsystems, &subsystemState{Subsystem: s})
	}
	return m
}

func (m *Machine) Initialized() bool {
	return m.initialized
}

// SetInitialized records the outcome of an initialize or clean sequence.
// Controllers call it only after the full sequence succeeded.
func (m *Machine) SetInitialized(v bool) {
	m.initialized = v
}

// Running reports whether every subsystem is running.
func (m *Machine) Running() bool {
	for _, s := range m.subsystems {
		if !s.running {
			return false
		}
	}
	return len(m.subsystems) > 0
}

// SubsystemRunning reports the tracked flag for one subsystem.
func (m *Machine) SubsystemRunning(name string) bool {
	for _, s := range m.subsystems {
		if s.Name == name {
			return s.running
		}
	}
	return false
}

// SetSubsystemRunning overrides the tracked flag for one subsystem. Used by
// reconcile paths that probe the actual remote state.
func (m *Machine) SetSubsystemRunning(name string, v bool) {
	for _, s := range m.subsystems {
		if s.Name == name {
			s.running = v
		}
	}
}

// CheckInitialized returns a NotInitializedError naming op if the cluster
// has not been initialized.
func (m *Machine) CheckInitialized(op string) error {
	if !m.initialized {
		m.log.Errorw("cluster is not initialized", "op", op)
		return &NotInitializedError{Op: op}
	}
	return nil
}

// Start brings every subsystem up in declaration order. A subsystem that is
// already running is skipped with a warning. Any failure aborts the
// sequence, leaving the flags of the remaining subsystems unchanged.
func (m *Machine) Start(ctx context.Context) error {
	return m.start(ctx, false)
}

// StartAndWait is Start, additionally blocking on each subsystem's
// readiness wait before moving to the next. The compute layer of a cluster
// depends on a ready storage layer, so waits happen in sequence order.
func (m *Machine) StartAndWait(ctx context.Context) error {
	return m.start(ctx, true)
}

func (m *Machine) start(ctx context.Context, wait bool) error {
	if err := m.CheckInitialized("start"); err != nil {
		return err
	}
	for _, s := range m.subsystems {
		if err := m.startOne(ctx, s, wait); err != nil {
			return err
		}
	}
	return nil
}

// StartSubsystem starts a single subsystem by name.
func (m *Machine) StartSubsystem(ctx context.Context, name string, wait bool) error {
	if err := m.CheckInitialized("start " + name); err != nil {
		return err
	}
	for _, s := range m.subsystems {
		if s.Name == name {
			return m.startOne(ctx, s, wait)
		}
	}
	return ConfigErrorf("unknown subsystem %q", name)
}

func (m *Machine) startOne(ctx context.Context, s *subsystemState, wait bool) error {
	if s.running {
		m.log.Warnw("subsystem already started", "subsystem", s.Name)
		return nil
	}
	m.log.Infow("starting subsystem", "subsystem", s.Name)
	if err := s.Start(ctx); err != nil {
		return err
	}
	if wait && s.Wait != nil {
		m.log.Infow("waiting for subsystem to be ready", "subsystem", s.Name)
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	s.running = true
	return nil
}

// Stop tears every subsystem down in reverse declaration order. Stop
// failures only produce warnings and the flags are cleared regardless, so
// repeated cleanup attempts converge on a stopped cluster.
func (m *Machine) Stop(ctx context.Context) error {
	if err := m.CheckInitialized("stop"); err != nil {
		return err
	}
	for i := len(m.subsystems) - 1; i >= 0; i-- {
		m.stopOne(ctx, m.subsystems[i])
	}
	return nil
}

// StopSubsystem stops a single subsystem by name.
func (m *Machine) StopSubsystem(ctx context.Context, name string) error {
	if err := m.CheckInitialized("stop " + name); err != nil {
		return err
	}
	for _, s := range m.subsystems {
		if s.Name == name {
			m.stopOne(ctx, s)
			return nil
		}
	}
	return ConfigErrorf("unknown subsystem %q", name)
}

func (m *Machine) stopOne(ctx context.Context, s *subsystemState) {
	m.log.Infow("stopping subsystem", "subsystem", s.Name)
	if err := s.Stop(ctx); err != nil {
		m.log.Warnw("error while stopping subsystem", "subsystem", s.Name, "error", err)
	}
	s.running = false
}

// Reset clears the initialized flag and every subsystem flag.
func (m *Machine) Reset() {
	m.initialized = false
	for _, s := range m.subsystems {
		s.running = false
	}
}
