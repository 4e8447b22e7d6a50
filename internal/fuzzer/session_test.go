package fuzzer

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/protoscope/internal/amf"
	"github.com/danmuck/protoscope/internal/catalog"
)

type fakeSender struct {
	mu    sync.Mutex
	calls int
	fn    func(probe []byte) ([]byte, error)
}

func (f *fakeSender) Send(_ context.Context, probe []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(probe)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("campaign did not finish")
	}
}

func dynObj(pairs ...amf.Pair) *amf.Object {
	return &amf.Object{Dynamic: true, Dyn: pairs}
}

func pair(k string, v amf.Value) amf.Pair {
	return amf.Pair{Key: k, Value: v}
}

func TestAutoStopOnConsecutiveFailures(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	sender := &fakeSender{fn: func([]byte) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}

	prefixes := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	suffixes := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	s := New(cat, sender, Options{
		Prefixes:         prefixes,
		Suffixes:         suffixes,
		FailureThreshold: 5,
	})

	if err := s.Start(context.Background(), ModeDiscovery, 3, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	st := s.Status()
	if st.State != StateStopped {
		t.Fatalf("expected stopped, got %v", st.State)
	}
	if st.StopReason != "consecutive transport failures" {
		t.Fatalf("unexpected stop reason %q", st.StopReason)
	}
	total := len(prefixes) * len(suffixes)
	if sender.count() >= total {
		t.Fatalf("auto-stop did not halt dispatch: %d probes of %d candidates", sender.count(), total)
	}
	if st.Counters.Failures < 5 {
		t.Fatalf("expected at least threshold failures, got %d", st.Counters.Failures)
	}
	// The log is settled once the campaign is done.
	if got := len(s.Results()); got != int(st.Counters.Sent) {
		t.Fatalf("results length %d != sent %d", got, st.Counters.Sent)
	}
}

func TestAutoStopReleasesCandidateFeed(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	sender := &fakeSender{fn: func([]byte) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}

	prefixes := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	suffixes := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	before := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		s := New(cat, sender, Options{
			Prefixes:         prefixes,
			Suffixes:         suffixes,
			FailureThreshold: 2,
		})
		if err := s.Start(context.Background(), ModeDiscovery, 3, 0); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		waitDone(t, s)
	}

	// Each stopped campaign must release its candidate feed, not park it
	// on a channel no lane will ever receive from again.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+1 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines leaked across stopped campaigns: before=%d after=%d",
				before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFailuresInterruptAnomalyStreak(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	var mu sync.Mutex
	calls := 0
	sender := &fakeSender{fn: func([]byte) ([]byte, error) {
		mu.Lock()
		calls++
		odd := calls%2 == 1
		mu.Unlock()
		if odd {
			// Non-empty undecodable response counts as an anomaly.
			return []byte{0xff}, nil
		}
		return nil, errors.New("connection refused")
	}}
	s := New(cat, sender, Options{
		Prefixes:         []string{"a", "b", "c"},
		Suffixes:         []string{"x", "y"},
		FailureThreshold: 10,
		AnomalyThreshold: 2,
	})

	if err := s.Start(context.Background(), ModeDiscovery, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	st := s.Status()
	if st.StopReason != "strategy exhausted" {
		t.Fatalf("interleaved anomalies are not consecutive, got stop reason %q", st.StopReason)
	}
	if st.Counters.Sent != 6 || st.Counters.Anomalies != 3 || st.Counters.Failures != 3 {
		t.Fatalf("unexpected counters %+v", st.Counters)
	}
}

func TestDiscoverySkipsKnownAndLearnsEchoes(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	cat.Observe("a.x", nil, catalog.DirectionSent, time.Now())

	sender := &fakeSender{fn: func(probe []byte) ([]byte, error) {
		return probe, nil // echo endpoint
	}}
	s := New(cat, sender, Options{Prefixes: []string{"a", "b"}, Suffixes: []string{"x", "y"}})

	if err := s.Start(context.Background(), ModeDiscovery, 2, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	st := s.Status()
	if st.Counters.Sent != 3 {
		t.Fatalf("expected 3 probes (a.x known), got %d", st.Counters.Sent)
	}
	if st.Counters.NewActions != 3 {
		t.Fatalf("expected 3 discovered actions, got %d", st.Counters.NewActions)
	}
	for _, name := range []string{"a.y", "b.x", "b.y"} {
		if !cat.Has(name) {
			t.Fatalf("echoed action %q not learned", name)
		}
	}
	if st.StopReason != "strategy exhausted" {
		t.Fatalf("unexpected stop reason %q", st.StopReason)
	}
}

func TestBoundaryHoldsOtherFields(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	cat.Observe("move.unit",
		dynObj(pair("x", amf.Integer(5)), pair("name", amf.String("alpha"))),
		catalog.DirectionSent, time.Now())

	var mu sync.Mutex
	var probes [][]byte
	sender := &fakeSender{fn: func(probe []byte) ([]byte, error) {
		mu.Lock()
		probes = append(probes, probe)
		mu.Unlock()
		return nil, nil
	}}
	s := New(cat, sender, Options{})

	if err := s.Start(context.Background(), ModeBoundary, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	if len(probes) == 0 {
		t.Fatalf("boundary mode generated no probes")
	}
	sawMax := false
	for _, raw := range probes {
		values, err := amf.DecodeAll(raw)
		if err != nil {
			t.Fatalf("probe must be well-formed: %v", err)
		}
		if len(values) != 2 || !amf.Equal(values[0], amf.String("move.unit")) {
			t.Fatalf("probe must carry action then payload, got %#v", values)
		}
		obj := values[1].(*amf.Object)
		x, _ := obj.Member("x")
		name, _ := obj.Member("name")
		if amf.Equal(x, amf.Integer(amf.IntegerMax)) && amf.Equal(name, amf.String("alpha")) {
			sawMax = true
		}
	}
	if !sawMax {
		t.Fatalf("expected an int_max probe holding other fields at sample values")
	}
}

func TestTypeConfusionSwapsKind(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	cat.Observe("hero.gear", dynObj(pair("slot", amf.Integer(2))), catalog.DirectionSent, time.Now())

	var mu sync.Mutex
	var probes [][]byte
	sender := &fakeSender{fn: func(probe []byte) ([]byte, error) {
		mu.Lock()
		probes = append(probes, probe)
		mu.Unlock()
		return nil, nil
	}}
	s := New(cat, sender, Options{})

	if err := s.Start(context.Background(), ModeTypeConfusion, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	if len(probes) != 1 {
		t.Fatalf("expected one confusion probe, got %d", len(probes))
	}
	values, err := amf.DecodeAll(probes[0])
	if err != nil {
		t.Fatalf("decode probe: %v", err)
	}
	obj := values[1].(*amf.Object)
	slot, _ := obj.Member("slot")
	if slot.Kind() == amf.KindInteger {
		t.Fatalf("confused field kept its kind: %#v", slot)
	}
}

func TestSequenceBreakReplaysOutOfOrder(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	base := time.Now()
	cat.Observe("first.op", dynObj(pair("n", amf.Integer(1))), catalog.DirectionSent, base.Add(-time.Minute))
	cat.Observe("second.op", dynObj(pair("n", amf.Integer(2))), catalog.DirectionSent, base)

	var mu sync.Mutex
	var order []string
	sender := &fakeSender{fn: func(probe []byte) ([]byte, error) {
		values, err := amf.DecodeAll(probe)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		order = append(order, string(values[0].(amf.String)))
		mu.Unlock()
		return nil, nil
	}}
	s := New(cat, sender, Options{})

	if err := s.Start(context.Background(), ModeSequenceBreak, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)

	if len(order) != 2 {
		t.Fatalf("expected 2 replays, got %d", len(order))
	}
	if order[0] != "second.op" || order[1] != "first.op" {
		t.Fatalf("expected reversed replay order, got %v", order)
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	block := make(chan struct{})
	sender := &fakeSender{fn: func([]byte) ([]byte, error) {
		<-block
		return nil, nil
	}}
	s := New(cat, sender, Options{Prefixes: []string{"p"}, Suffixes: []string{"q"}})

	if err := s.Start(context.Background(), ModeDiscovery, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background(), ModeDiscovery, 1, 0); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(block)
	waitDone(t, s)
}

func TestStopAndRestartResetsCounters(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	sender := &fakeSender{fn: func([]byte) ([]byte, error) {
		return nil, errors.New("down")
	}}
	s := New(cat, sender, Options{
		Prefixes:         []string{"a", "b", "c"},
		Suffixes:         []string{"x", "y", "z"},
		FailureThreshold: 2,
	})

	if err := s.Start(context.Background(), ModeDiscovery, 1, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, s)
	if s.Status().Counters.Failures == 0 {
		t.Fatalf("first campaign recorded no failures")
	}

	sender.fn = func(probe []byte) ([]byte, error) { return probe, nil }
	if err := s.Start(context.Background(), ModeDiscovery, 1, 0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitDone(t, s)

	st := s.Status()
	if st.Counters.Failures != 0 {
		t.Fatalf("restart must reset counters, got %d failures", st.Counters.Failures)
	}
	if st.State != StateStopped || st.StopReason != "strategy exhausted" {
		t.Fatalf("unexpected terminal status %+v", st)
	}
}

func TestResultsReadableDuringCampaign(t *testing.T) {
	cat := catalog.New(catalog.Options{})
	sender := &fakeSender{fn: func(probe []byte) ([]byte, error) {
		time.Sleep(time.Millisecond)
		return probe, nil
	}}
	s := New(cat, sender, Options{
		Prefixes: []string{"a", "b", "c", "d"},
		Suffixes: []string{"x", "y", "z", "w"},
	})

	if err := s.Start(context.Background(), ModeDiscovery, 2, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 50; i++ {
		for _, r := range s.Results() {
			if r.ID == "" {
				t.Fatalf("result missing id")
			}
		}
	}
	waitDone(t, s)
	if got := len(s.Results()); got != 16 {
		t.Fatalf("expected 16 results, got %d", got)
	}
}
