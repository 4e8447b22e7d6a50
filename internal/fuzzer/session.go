package fuzzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danmuck/protoscope/internal/amf"
	"github.com/danmuck/protoscope/internal/catalog"
	"github.com/danmuck/protoscope/internal/observability"
)

var (
	ErrAlreadyRunning = errors.New("fuzzer: session already running")
	ErrNoSender       = errors.New("fuzzer: no sender configured")
)

// Sender delivers one probe to the live endpoint and returns its response.
// Implementations own transport and timeout policy; a timeout surfaces as
// an error and counts as a failed probe.
type Sender interface {
	Send(ctx context.Context, probe []byte) ([]byte, error)
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Result is one immutable entry of the campaign log.
type Result struct {
	ID          string
	Lane        int
	Action      string
	Mutation    string
	SentAt      time.Time
	Err         string
	ResponseLen int
	NewAction   bool
	Anomaly     bool
}

type Counters struct {
	Sent       uint64
	Failures   uint64
	NewActions uint64
	Anomalies  uint64
}

type Status struct {
	State       State
	Mode        Mode
	Parallelism int
	Delay       time.Duration
	Counters    Counters
	StopReason  string
}

// Options carries campaign-independent settings.
type Options struct {
	// Prefixes and Suffixes feed the discovery pattern set.
	Prefixes []string
	Suffixes []string
	// FailureThreshold stops the session after that many consecutive
	// transport failures on any single lane.
	FailureThreshold int
	// AnomalyThreshold does the same for consecutive anomalies.
	AnomalyThreshold int
}

// Session drives one campaign at a time against the shared catalog.
type Session struct {
	catalog *catalog.Catalog
	send    Sender
	opts    Options

	// stop is checked before every dispatch on every lane.
	stop atomic.Bool

	mu          sync.Mutex
	state       State
	mode        Mode
	parallelism int
	delay       time.Duration
	counters    Counters
	stopReason  string
	results     []Result
	done        chan struct{}
	// stopped is closed by requestStop so the candidate feed unblocks
	// even when no lane will receive again.
	stopped chan struct{}
}

func New(cat *catalog.Catalog, send Sender, opts Options) *Session {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.AnomalyThreshold <= 0 {
		opts.AnomalyThreshold = 10
	}
	return &Session{catalog: cat, send: send, opts: opts}
}

// Start launches a campaign. Restarting from Stopped resets counters and
// the results log; starting while Running is an error.
func (s *Session) Start(ctx context.Context, mode Mode, parallelism int, delay time.Duration) error {
	if s.send == nil {
		return ErrNoSender
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			// Previous campaign still draining its in-flight probes.
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	s.state = StateRunning
	s.mode = mode
	s.parallelism = parallelism
	s.delay = delay
	s.counters = Counters{}
	s.results = nil
	s.stopReason = ""
	s.stop.Store(false)
	done := make(chan struct{})
	s.done = done
	stopped := make(chan struct{})
	s.stopped = stopped
	s.mu.Unlock()

	candidates := generate(mode, s.catalog, s.opts.Prefixes, s.opts.Suffixes)
	log.Info().
		Str("mode", mode.String()).
		Int("parallelism", parallelism).
		Dur("delay", delay).
		Int("candidates", len(candidates)).
		Msg("fuzzer.start")

	feed := make(chan candidate)
	go func() {
		defer close(feed)
		for _, c := range candidates {
			if s.stop.Load() {
				return
			}
			select {
			case feed <- c:
			case <-ctx.Done():
				return
			case <-stopped:
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for lane := 0; lane < parallelism; lane++ {
		lane := lane
		g.Go(func() error {
			s.runLane(gctx, lane, mode, delay, feed)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		s.finish("strategy exhausted")
		close(done)
	}()
	return nil
}

// Stop requests the session halt before the next dispatch on every lane.
// In-flight probes complete so no partial state is left behind.
func (s *Session) Stop() {
	s.requestStop("stopped by caller")
}

func (s *Session) requestStop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.stop.Store(true)
	s.state = StateStopped
	s.stopReason = reason
	close(s.stopped)
	log.Info().Str("reason", reason).Msg("fuzzer.stopping")
}

// finish marks natural completion; an earlier stop keeps its reason.
func (s *Session) finish(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StateStopped
		s.stopReason = reason
	}
	log.Info().
		Str("reason", s.stopReason).
		Uint64("sent", s.counters.Sent).
		Uint64("new_actions", s.counters.NewActions).
		Msg("fuzzer.finished")
}

// Done reports completion of the current campaign, including lane drain.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Status is a point-in-time snapshot, safe during a campaign.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		Mode:        s.mode,
		Parallelism: s.parallelism,
		Delay:       s.delay,
		Counters:    s.counters,
		StopReason:  s.stopReason,
	}
}

// Results copies the append-only log; entries are immutable once added.
func (s *Session) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// runLane is one sequential probe loop: generate is already done, so the
// loop is dispatch -> await -> learn -> pace, with the stop flag checked
// before every dispatch.
func (s *Session) runLane(ctx context.Context, lane int, mode Mode, delay time.Duration, feed <-chan candidate) {
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	consecutiveFailures := 0
	consecutiveAnomalies := 0

	for cand := range feed {
		if s.stop.Load() {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if s.stop.Load() {
				return
			}
		}

		res := s.dispatch(ctx, lane, mode, cand)

		if res.Err != "" {
			consecutiveFailures++
			consecutiveAnomalies = 0
			if consecutiveFailures >= s.opts.FailureThreshold {
				s.requestStop("consecutive transport failures")
				return
			}
			continue
		}
		consecutiveFailures = 0

		if res.Anomaly {
			consecutiveAnomalies++
			if consecutiveAnomalies >= s.opts.AnomalyThreshold {
				s.requestStop("consecutive anomalies")
				return
			}
			continue
		}
		consecutiveAnomalies = 0
	}
}

func (s *Session) dispatch(ctx context.Context, lane int, mode Mode, cand candidate) Result {
	res := Result{
		ID:       uuid.NewString(),
		Lane:     lane,
		Action:   cand.action,
		Mutation: cand.mutation,
		SentAt:   time.Now(),
	}

	probe, err := encodeProbe(cand)
	if err != nil {
		res.Err = err.Error()
	} else {
		resp, sendErr := s.send.Send(ctx, probe)
		if sendErr != nil {
			res.Err = sendErr.Error()
		} else {
			res.ResponseLen = len(resp)
			s.learnResponse(resp, &res)
		}
	}

	outcome := "ok"
	switch {
	case res.Err != "":
		outcome = "failure"
	case res.Anomaly:
		outcome = "anomaly"
	}
	observability.RecordProbe(mode.String(), outcome)

	s.mu.Lock()
	s.counters.Sent++
	if res.Err != "" {
		s.counters.Failures++
	}
	if res.NewAction {
		s.counters.NewActions++
	}
	if res.Anomaly {
		s.counters.Anomalies++
	}
	s.results = append(s.results, res)
	s.mu.Unlock()
	return res
}

func encodeProbe(cand candidate) ([]byte, error) {
	if cand.payload == nil {
		return amf.Encode(amf.String(cand.action))
	}
	return amf.Encode(amf.String(cand.action), cand.payload)
}

// learnResponse feeds decodable echoes back into the catalog. A non-empty
// response that fails to decode is an anomaly.
func (s *Session) learnResponse(resp []byte, res *Result) {
	if len(resp) == 0 {
		return
	}
	values, err := amf.DecodeAll(resp)
	if err != nil {
		res.Anomaly = true
		return
	}
	name, payload := responseAction(values)
	if name == "" {
		return
	}
	delta := s.catalog.Observe(name, payload, catalog.DirectionReceived, time.Now())
	if delta == catalog.DeltaNewAction {
		res.NewAction = true
	}
}

func responseAction(values []amf.Value) (string, amf.Value) {
	var name string
	for _, v := range values {
		if str, ok := v.(amf.String); ok && str != "" {
			name = string(str)
			break
		}
	}
	if name == "" {
		return "", nil
	}
	for _, v := range values {
		switch v.(type) {
		case *amf.Object, *amf.Array:
			return name, v
		}
	}
	return name, nil
}
