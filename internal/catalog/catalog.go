package catalog

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoscope/internal/amf"
)

// Delta reports what one observation changed, strongest change first.
type Delta int

const (
	DeltaCounterOnly Delta = iota
	DeltaNewSample
	DeltaNewField
	DeltaNewAction
)

func (d Delta) String() string {
	switch d {
	case DeltaNewAction:
		return "new_action"
	case DeltaNewField:
		return "new_field"
	case DeltaNewSample:
		return "new_sample"
	default:
		return "counter_only"
	}
}

// Options configures a Catalog.
type Options struct {
	// SampleLimit bounds retained payloads per action; 0 means default.
	SampleLimit int
	// Classify maps an action name to a pattern bucket for the document
	// export. Nil falls back to the leading name segment.
	Classify func(name string) string
}

// Catalog owns the name -> action mapping. The outer lock guards only the
// map; each action carries its own mutex so same-name observations are
// serialized while distinct names proceed concurrently.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string]*ProtocolAction

	sampleLimit int
	classify    func(string) string
}

func New(opts Options) *Catalog {
	limit := opts.SampleLimit
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	return &Catalog{
		actions:     make(map[string]*ProtocolAction),
		sampleLimit: limit,
		classify:    opts.Classify,
	}
}

// Observe creates or updates the named action from one payload. This is
// the single mutation entry point shared by the analyzer and fuzzer.
func (c *Catalog) Observe(name string, payload amf.Value, dir Direction, at time.Time) Delta {
	if at.IsZero() {
		at = time.Now()
	}

	c.mu.Lock()
	act, known := c.actions[name]
	if !known {
		act = newAction(name, at)
		c.actions[name] = act
	}
	c.mu.Unlock()

	act.mu.Lock()
	defer act.mu.Unlock()

	first := !known
	act.Count++
	act.LastSeen = at
	act.Directions = act.Directions.Add(dir)

	shapeGrew := act.mergeShape(payloadFields(payload), first)
	sampleAdded := act.retainSample(payload, c.sampleLimit)

	delta := DeltaCounterOnly
	switch {
	case first:
		delta = DeltaNewAction
	case shapeGrew:
		delta = DeltaNewField
	case sampleAdded:
		delta = DeltaNewSample
	}
	if delta != DeltaCounterOnly {
		log.Debug().
			Str("action", name).
			Str("delta", delta.String()).
			Uint64("count", act.Count).
			Msg("catalog.observe")
	}
	return delta
}

// Get returns a snapshot of one action.
func (c *Catalog) Get(name string) (*ProtocolAction, bool) {
	c.mu.RLock()
	act, ok := c.actions[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	act.mu.Lock()
	defer act.mu.Unlock()
	return act.snapshot(), true
}

// All returns snapshots of every action ordered by name.
func (c *Catalog) All() []*ProtocolAction {
	c.mu.RLock()
	acts := make([]*ProtocolAction, 0, len(c.actions))
	for _, act := range c.actions {
		acts = append(acts, act)
	}
	c.mu.RUnlock()

	out := make([]*ProtocolAction, 0, len(acts))
	for _, act := range acts {
		act.mu.Lock()
		out = append(out, act.snapshot())
		act.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every known action name, ordered.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether an action name is known.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.actions[name]
	return ok
}

// Len reports the number of known actions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.actions)
}

// Reset discards every learned action.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = make(map[string]*ProtocolAction)
	log.Info().Msg("catalog.reset")
}

func (c *Catalog) bucketFor(name string) string {
	if c.classify != nil {
		if b := c.classify(name); b != "" {
			return b
		}
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return "general"
}
