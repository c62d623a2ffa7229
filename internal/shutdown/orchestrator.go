package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ridergate/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/ridergate/internal/pkg/util/fsm"
	"github.com/autopeer-io/ridergate/pkg/log"
)

// Reason names what started the shutdown.
type Reason string

const (
	ReasonSignal      Reason = "signal"
	ReasonWindowClose Reason = "window_close"
	ReasonRunExit     Reason = "run_exit"
	ReasonPanic       Reason = "panic"
)

// Orchestrator states.
const (
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
	StateTerminated   = "terminated"
)

const (
	eventShutdown  = "shutdown"
	eventTerminate = "terminate"
)

// SafetyCommander sends the stop commands issued before the link closes.
type SafetyCommander interface {
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
}

// Disconnector drops the broker link without waiting on the broker.
type Disconnector interface {
	Disconnect()
}

// StopFunc stops a presenter.
type StopFunc func(ctx context.Context) error

type presenter struct {
	name string
	stop StopFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock driving the flush delay and the watchdog.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExit is called with the exit code once the sequence finishes.
func WithExit(f func(code int)) Option {
	return func(o *Orchestrator) { o.exit = f }
}

// WithKiller replaces the watchdog's process killer.
func WithKiller(f func()) Option {
	return func(o *Orchestrator) { o.kill = f }
}

// Orchestrator coordinates shutdown. It is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	commands  SafetyCommander
	transport Disconnector
	logger    log.Logger
	clock     clock.Clock
	exit      func(code int)
	kill      func()

	fsm       *fsm.FSM
	triggered atomic.Bool
	reason    atomic.Value
	done      chan struct{}

	mu         sync.Mutex
	presenters []presenter

	signalOnce sync.Once
}

// New returns a running orchestrator. commands and transport may be nil.
func New(cfg Config, commands SafetyCommander, transport Disconnector, opts ...Option) *Orchestrator {
	cfg.setDefaults()

	o := &Orchestrator{
		cfg:       cfg,
		commands:  commands,
		transport: transport,
		logger:    log.WithName("shutdown"),
		clock:     clock.RealClock{},
		kill:      killSelf,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.fsm = fsm.NewFSM(
		StateRunning,
		fsm.Events{
			{Name: eventShutdown, Src: []string{StateRunning}, Dst: StateShuttingDown},
			{Name: eventTerminate, Src: []string{StateShuttingDown}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": fsmutil.WrapEvent(o.actionEnterState),
		},
	)
	return o
}

// Register adds a presenter to stop during shutdown, in registration order.
func (o *Orchestrator) Register(name string, stop StopFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presenters = append(o.presenters, presenter{name: name, stop: stop})
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() string {
	return o.fsm.Current()
}

// Reason returns the reason that won the trigger race, if any.
func (o *Orchestrator) Reason() (Reason, bool) {
	r, ok := o.reason.Load().(Reason)
	return r, ok
}

// Done is closed once the sequence has finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Trigger starts the shutdown sequence and reports whether this call started
// it. It never blocks.
func (o *Orchestrator) Trigger(reason Reason) bool {
	if !o.triggered.CompareAndSwap(false, true) {
		metrics.ShutdownTriggersTotal.WithLabelValues(string(reason), metrics.ResultIgnored).Inc()
		o.logger.Debug("Shutdown already in progress, ignoring trigger", "reason", string(reason))
		return false
	}

	o.reason.Store(reason)
	metrics.ShutdownTriggersTotal.WithLabelValues(string(reason), metrics.ResultAccepted).Inc()
	o.logger.Info("Shutdown triggered", "reason", string(reason))

	o.transition(eventShutdown)
	go o.run()
	return true
}

// InstallSignalHandlers routes SIGINT and SIGTERM into Trigger. A second
// signal during shutdown kills the process. Only the first call has effect.
func (o *Orchestrator) InstallSignalHandlers(ctx context.Context) {
	o.signalOnce.Do(func() {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

		go func() {
			defer signal.Stop(ch)
			for {
				select {
				case <-ctx.Done():
					return
				case <-o.done:
					return
				case sig := <-ch:
					if o.Trigger(ReasonSignal) {
						o.logger.Info("Received signal", "signal", sig.String())
						continue
					}
					o.logger.Warn("Received second signal, terminating immediately", "signal", sig.String())
					o.kill()
					return
				}
			}
		}()
	})
}

func (o *Orchestrator) run() {
	watchdog := o.clock.AfterFunc(o.cfg.WatchdogTimeout, o.fire)

	o.step("safety commands", o.sendSafetyCommands)
	o.clock.Sleep(o.cfg.FlushDelay)
	o.step("stop presenters", o.stopPresenters)
	o.step("disconnect", func() {
		if o.transport != nil {
			o.transport.Disconnect()
		}
	})

	watchdog.Stop()
	o.transition(eventTerminate)
	o.logger.Info("Shutdown complete")
	close(o.done)

	if o.exit != nil {
		o.exit(0)
	}
}

// step runs fn, containing any panic so that later steps still run.
func (o *Orchestrator) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(fmt.Errorf("panic: %v", r), "Shutdown step panicked", "step", name)
		}
	}()
	fn()
}

func (o *Orchestrator) sendSafetyCommands() {
	if o.commands == nil {
		return
	}

	send := func(name string, f func(context.Context) error) {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error(fmt.Errorf("panic: %v", r), "Safety command panicked", "command", name)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SafetyTimeout)
		defer cancel()
		if err := f(ctx); err != nil {
			o.logger.Warn("Safety command not sent", "command", name, "error", err)
		}
	}

	send("stop", o.commands.Stop)
	send("emergency_stop", o.commands.EmergencyStop)
}

func (o *Orchestrator) stopPresenters() {
	o.mu.Lock()
	ps := append([]presenter(nil), o.presenters...)
	o.mu.Unlock()

	for _, p := range ps {
		o.step("stop "+p.name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PresenterTimeout)
			defer cancel()
			if err := p.stop(ctx); err != nil {
				o.logger.Warn("Presenter did not stop cleanly", "presenter", p.name, "error", err)
			}
		})
	}
}

func (o *Orchestrator) fire() {
	metrics.WatchdogFiredTotal.Inc()
	o.logger.Warn("Shutdown watchdog fired, killing process", "timeout", o.cfg.WatchdogTimeout.String())
	_ = o.logger.Sync()
	o.kill()
}

func (o *Orchestrator) actionEnterState(_ context.Context, e *fsm.Event) error {
	o.logger.Debug("Shutdown state changed", "from", e.Src, "to", e.Dst)
	return nil
}

func (o *Orchestrator) transition(event string) {
	if err := fsmutil.IgnoreNoTransition(o.fsm.Event(context.Background(), event)); err != nil {
		o.logger.Warn("Unexpected shutdown transition", "event", event, "state", o.fsm.Current(), "error", err)
	}
}

