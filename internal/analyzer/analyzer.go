package analyzer

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoscope/internal/amf"
	"github.com/danmuck/protoscope/internal/catalog"
	"github.com/danmuck/protoscope/internal/observability"
)

// Options configures heuristics. Zero values fall back to defaults.
type Options struct {
	// ActionKeys are object member names consulted when no top-level
	// string names the action.
	ActionKeys []string
	// Classify maps an action name to a pattern bucket, first match wins.
	Classify func(name string) string
}

// Report summarizes what one ingested frame contributed.
type Report struct {
	Decoded   bool
	DecodeErr error
	Action    string
	Bucket    string
	Delta     catalog.Delta
}

// Stats is a point-in-time snapshot of ingestion accounting.
type Stats struct {
	Frames      uint64
	Undecodable uint64
	LastError   string
	Buckets     map[string]uint64
}

// Analyzer decodes captured frames, learns actions into the shared
// catalog, and answers diff queries.
type Analyzer struct {
	catalog    *catalog.Catalog
	actionKeys []string
	classify   func(string) string

	mu          sync.Mutex
	frames      uint64
	undecodable uint64
	lastError   string
	buckets     map[string]uint64
}

func New(cat *catalog.Catalog, opts Options) *Analyzer {
	keys := opts.ActionKeys
	if len(keys) == 0 {
		keys = []string{"cmd", "action"}
	}
	return &Analyzer{
		catalog:    cat,
		actionKeys: keys,
		classify:   opts.Classify,
		buckets:    make(map[string]uint64),
	}
}

// Ingest decodes one frame and applies its observation to the catalog.
// Undecodable frames are counted and surfaced on the report, never
// dropped silently, and never abort the stream.
func (a *Analyzer) Ingest(f *catalog.Frame) Report {
	observability.RecordFrame(f.Direction.String())

	a.mu.Lock()
	a.frames++
	a.mu.Unlock()

	values, err := amf.DecodeAll(f.Raw)
	if err != nil {
		a.mu.Lock()
		a.undecodable++
		a.lastError = err.Error()
		a.mu.Unlock()
		observability.RecordUndecodable()
		log.Warn().Err(err).Str("direction", f.Direction.String()).Msg("analyzer.undecodable")
		return Report{DecodeErr: err}
	}
	f.Values = values

	report := Report{Decoded: true}
	name, payload := a.findAction(values)
	if name == "" {
		return report
	}
	f.Action = name
	report.Action = name
	report.Delta = a.catalog.Observe(name, payload, f.Direction, f.Timestamp)
	observability.RecordObservation(report.Delta.String())

	if a.classify != nil {
		report.Bucket = a.classify(name)
	}
	if report.Bucket != "" {
		a.mu.Lock()
		a.buckets[report.Bucket]++
		a.mu.Unlock()
	}
	log.Debug().
		Str("action", name).
		Str("bucket", report.Bucket).
		Str("delta", report.Delta.String()).
		Msg("analyzer.ingest")
	return report
}

// findAction applies the action-name heuristic: the first top-level
// string wins; otherwise the first top-level object is searched for a
// configured key with a string value. The payload is the first
// container value in the frame, or the named object itself.
func (a *Analyzer) findAction(values []amf.Value) (string, amf.Value) {
	for _, v := range values {
		if s, ok := v.(amf.String); ok && s != "" {
			return string(s), firstContainer(values)
		}
	}
	for _, v := range values {
		obj, ok := v.(*amf.Object)
		if !ok {
			continue
		}
		for _, key := range a.actionKeys {
			if member, found := obj.Member(key); found {
				if s, ok := member.(amf.String); ok && s != "" {
					return string(s), obj
				}
			}
		}
		break
	}
	return "", nil
}

func firstContainer(values []amf.Value) amf.Value {
	for _, v := range values {
		switch v.(type) {
		case *amf.Object, *amf.Array:
			return v
		}
	}
	return nil
}

// Stats reports ingestion accounting, queryable at any time.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	buckets := make(map[string]uint64, len(a.buckets))
	for k, v := range a.buckets {
		buckets[k] = v
	}
	return Stats{
		Frames:      a.frames,
		Undecodable: a.undecodable,
		LastError:   a.lastError,
		Buckets:     buckets,
	}
}
