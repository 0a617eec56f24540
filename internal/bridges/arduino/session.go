package arduino

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// Session defaults.
const (
	// DefaultPollInterval is the period between dump requests.
	DefaultPollInterval = time.Second

	// DefaultStaleAfter is how long readings may go unrefreshed.
	DefaultStaleAfter = 5 * time.Second
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateClosed SessionState = iota
	StateOpen
	StatePolling
)

func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePolling:
		return "polling"
	default:
		return "closed"
	}
}

// ControlFunc runs one control pass. The session calls it at the end of
// every cycle when control runs inline.
type ControlFunc func(now time.Time)

// CycleObserver is told the outcome of every poll cycle.
type CycleObserver func(now time.Time, err error)

// SessionOptions holds configuration for creating a session.
type SessionOptions struct {
	// Link is the serial connection. Required.
	Link Link

	// Store receives readings and device echoes. Required.
	Store *brewery.Store

	// Control is optional; nil means control runs elsewhere.
	Control ControlFunc

	// OnCycle is optional.
	OnCycle CycleObserver

	PollInterval time.Duration

	// ReadWindow caps the time spent collecting a dump. Defaults to half
	// the poll interval so a chatty device cannot stall the loop.
	ReadWindow time.Duration

	// StartupDelay is waited after the port opens.
	StartupDelay time.Duration

	// StaleAfter is the freshness threshold for stale warnings.
	StaleAfter time.Duration

	Logger Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Stats is a snapshot of session counters.
type Stats struct {
	Cycles       uint64    `json:"cycles"`
	CycleErrors  uint64    `json:"cycle_errors"`
	LinesRx      uint64    `json:"lines_rx"`
	ParseErrors  uint64    `json:"parse_errors"`
	LookupMisses uint64    `json:"lookup_misses"`
	CommandsTx   uint64    `json:"commands_tx"`
	LastCycle    time.Time `json:"last_cycle"`
}

type sessionStats struct {
	cycles       atomic.Uint64
	cycleErrors  atomic.Uint64
	linesRx      atomic.Uint64
	parseErrors  atomic.Uint64
	lookupMisses atomic.Uint64
	commandsTx   atomic.Uint64
	lastCycle    atomic.Int64
}

// Session owns the poll cycle against one controller.
//
// Lifecycle: Closed -> Open (port acquired) -> Polling (Run loop) ->
// Closed. Run always releases the port on exit, whatever the cause.
//
// Each cycle, under the link lock:
//  1. send the dump request
//  2. read lines until the device goes quiet
//  3. decode and apply each line to the store
//  4. run the control pass (inline mode)
//  5. write config corrections and reconciliation commands
//  6. drain output and discard leftover input
//
// A link error inside a cycle is logged and the cycle is skipped; the next
// tick tries again.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	link       Link
	store      *brewery.Store
	reconciler *Reconciler
	control    ControlFunc
	onCycle    CycleObserver

	pollInterval time.Duration
	readWindow   time.Duration
	startupDelay time.Duration
	staleAfter   time.Duration
	now          func() time.Time

	state   atomic.Int32
	running atomic.Bool
	stats   sessionStats
	started time.Time
	stale   bool

	// cycleMu serialises PollOnce callers with the Run loop.
	cycleMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a closed session.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Session{
		link:         opts.Link,
		store:        opts.Store,
		reconciler:   NewReconciler(opts.Store),
		control:      opts.Control,
		onCycle:      opts.OnCycle,
		pollInterval: opts.PollInterval,
		readWindow:   opts.ReadWindow,
		startupDelay: opts.StartupDelay,
		staleAfter:   opts.StaleAfter,
		now:          opts.Clock,
		logger:       opts.Logger,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.readWindow <= 0 || s.readWindow > s.pollInterval {
		s.readWindow = s.pollInterval / 2
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LinkName returns the name of the underlying link.
func (s *Session) LinkName() string {
	return s.link.Name()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Cycles:       s.stats.cycles.Load(),
		CycleErrors:  s.stats.cycleErrors.Load(),
		LinesRx:      s.stats.linesRx.Load(),
		ParseErrors:  s.stats.parseErrors.Load(),
		LookupMisses: s.stats.lookupMisses.Load(),
		CommandsTx:   s.stats.commandsTx.Load(),
	}
	if ns := s.stats.lastCycle.Load(); ns != 0 {
		st.LastCycle = time.Unix(0, ns)
	}
	return st
}

// Stale reports whether the store has gone without device data for longer
// than the configured threshold.
func (s *Session) Stale() bool {
	return s.store.Stale(s.staleAfter)
}

// Open acquires the serial port and waits out the board reset.
//
// Returns an error wrapping ErrLink if the port cannot be opened; this is
// the only link failure treated as fatal.
func (s *Session) Open(ctx context.Context) error {
	if s.State() != StateClosed {
		return nil
	}
	if err := s.link.Open(); err != nil {
		return err
	}
	s.state.Store(int32(StateOpen))
	s.started = s.now()
	s.logInfo("serial link opened", "port", s.link.Name())

	if s.startupDelay > 0 {
		timer := time.NewTimer(s.startupDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			_ = s.Close()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Close releases the serial port.
func (s *Session) Close() error {
	prev := SessionState(s.state.Swap(int32(StateClosed)))
	err := s.link.Close()
	if prev != StateClosed {
		s.logInfo("serial link closed", "port", s.link.Name())
	}
	return err
}

// Run opens the link if needed and polls until ctx is cancelled.
// It returns nil on cancellation and an error only if the link cannot be
// opened.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)

	if err := s.Open(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			s.logError("closing serial link", err)
		}
	}()

	s.state.Store(int32(StatePolling))
	s.logInfo("polling started", "interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.PollOnce()
	for {
		select {
		case <-ctx.Done():
			s.logInfo("polling stopped")
			return nil
		case <-ticker.C:
			s.PollOnce()
		}
	}
}

// PollOnce runs a single cycle and returns its error, which has already
// been logged and counted.
func (s *Session) PollOnce() error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	now := s.now()
	if !s.started.IsZero() {
		s.store.SetElapsed(now.Sub(s.started))
	}

	err := s.cycle(now)
	s.stats.cycles.Add(1)
	s.stats.lastCycle.Store(now.UnixNano())
	if err != nil {
		s.stats.cycleErrors.Add(1)
		s.logError("poll cycle skipped", err)
	}

	s.checkStale()
	if s.onCycle != nil {
		s.onCycle(now, err)
	}
	return err
}

func (s *Session) cycle(now time.Time) error {
	return s.link.Do(func(c Conn) (err error) {
		// Flush on every exit: bytes left from a failed read must not
		// prefix the next cycle's first line.
		defer func() {
			if ferr := c.Flush(); ferr != nil && err == nil {
				err = ferr
			}
		}()

		if err := c.Write(DumpRequest); err != nil {
			return fmt.Errorf("dump request: %w", err)
		}

		lines, err := c.ReadLines(s.readWindow)
		if err != nil {
			return fmt.Errorf("reading dump: %w", err)
		}

		var out [][]byte
		for _, line := range lines {
			out = append(out, s.handleLine(line, now)...)
		}

		if s.control != nil {
			s.control(now)
		}

		for _, cmd := range s.reconciler.Pending() {
			s.logDebug("reconciling output", "actuator", cmd.ActuatorID, "pin", cmd.Pin, "status", cmd.Status)
			out = append(out, cmd.Bytes())
		}

		for _, msg := range out {
			if err := c.Write(msg); err != nil {
				return fmt.Errorf("writing %q: %w", msg, err)
			}
			s.stats.commandsTx.Add(1)
		}
		return nil
	})
}

// checkStale logs once per transition between fresh and stale.
func (s *Session) checkStale() {
	stale := s.Stale()
	if stale == s.stale {
		return
	}
	s.stale = stale
	if stale {
		s.logWarn("device data is stale", "last_contact", s.store.LastDeviceContact(), "threshold", s.staleAfter)
	} else {
		s.logInfo("device data fresh again")
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, err error) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
