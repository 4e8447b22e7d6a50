package fuzzer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/danmuck/protoscope/internal/amf"
	"github.com/danmuck/protoscope/internal/catalog"
)

// Mode selects one campaign strategy.
type Mode int

const (
	ModeDiscovery Mode = iota
	ModeBoundary
	ModeTypeConfusion
	ModeSequenceBreak
)

func (m Mode) String() string {
	switch m {
	case ModeDiscovery:
		return "discovery"
	case ModeBoundary:
		return "boundary"
	case ModeTypeConfusion:
		return "type_confusion"
	case ModeSequenceBreak:
		return "sequence_break"
	default:
		return "unknown"
	}
}

// candidate is one probe to dispatch: an action name, an optional payload,
// and a description of the mutation applied.
type candidate struct {
	action   string
	payload  amf.Value
	mutation string
}

// longProbeString sizes the "very long string" boundary candidate.
const longProbeString = 4096

// generate builds the full candidate list for a mode up front. Campaigns
// are finite: a drained list completes the session.
func generate(mode Mode, cat *catalog.Catalog, prefixes, suffixes []string) []candidate {
	switch mode {
	case ModeDiscovery:
		return generateDiscovery(cat, prefixes, suffixes)
	case ModeBoundary:
		return generateBoundary(cat)
	case ModeTypeConfusion:
		return generateTypeConfusion(cat)
	case ModeSequenceBreak:
		return generateSequenceBreak(cat)
	default:
		return nil
	}
}

// generateDiscovery probes prefix x suffix names the catalog has not seen.
func generateDiscovery(cat *catalog.Catalog, prefixes, suffixes []string) []candidate {
	var out []candidate
	for _, p := range prefixes {
		for _, s := range suffixes {
			name := p + "." + s
			if cat.Has(name) {
				continue
			}
			out = append(out, candidate{action: name, mutation: "minimal probe"})
		}
	}
	return out
}

// generateBoundary holds an action's last-known-good sample fixed and
// pushes one field at a time to type-appropriate extrema.
func generateBoundary(cat *catalog.Catalog) []candidate {
	var out []candidate
	for _, act := range cat.All() {
		sample := lastSample(act)
		if sample == nil {
			continue
		}
		for _, f := range act.Shape {
			for _, ext := range extremesFor(f.Kinds) {
				mutated, ok := replaceField(sample, f.Key, ext.value)
				if !ok {
					continue
				}
				out = append(out, candidate{
					action:   act.Name,
					payload:  mutated,
					mutation: fmt.Sprintf("boundary %s=%s", f.Key, ext.label),
				})
			}
		}
	}
	return out
}

// generateTypeConfusion re-sends known-good samples with one field's
// value swapped to a different kind.
func generateTypeConfusion(cat *catalog.Catalog) []candidate {
	var out []candidate
	for _, act := range cat.All() {
		sample := lastSample(act)
		if sample == nil {
			continue
		}
		for _, f := range act.Shape {
			confused := confusedValue(f.Kinds)
			mutated, ok := replaceField(sample, f.Key, confused)
			if !ok {
				continue
			}
			out = append(out, candidate{
				action:   act.Name,
				payload:  mutated,
				mutation: fmt.Sprintf("type confusion %s->%s", f.Key, confused.Kind()),
			})
		}
	}
	return out
}

// generateSequenceBreak replays known samples in reverse of the order
// their actions were first observed.
func generateSequenceBreak(cat *catalog.Catalog) []candidate {
	acts := cat.All()
	sort.Slice(acts, func(i, j int) bool {
		if !acts[i].FirstSeen.Equal(acts[j].FirstSeen) {
			return acts[i].FirstSeen.After(acts[j].FirstSeen)
		}
		return acts[i].Name > acts[j].Name
	})
	var out []candidate
	for _, act := range acts {
		sample := lastSample(act)
		if sample == nil {
			continue
		}
		out = append(out, candidate{
			action:   act.Name,
			payload:  sample,
			mutation: "out-of-order replay",
		})
	}
	return out
}

func lastSample(act *catalog.ProtocolAction) amf.Value {
	if len(act.Samples) == 0 {
		return nil
	}
	return act.Samples[len(act.Samples)-1]
}

type extreme struct {
	label string
	value amf.Value
}

// extremesFor picks boundary values for every kind in a field's union.
func extremesFor(kinds amf.KindSet) []extreme {
	var out []extreme
	if kinds.Has(amf.KindInteger) {
		out = append(out,
			extreme{"int_min", amf.Integer(amf.IntegerMin)},
			extreme{"int_max", amf.Integer(amf.IntegerMax)},
			extreme{"zero", amf.Integer(0)},
		)
	}
	if kinds.Has(amf.KindDouble) {
		out = append(out,
			extreme{"neg_inf", amf.Double(math.Inf(-1))},
			extreme{"huge", amf.Double(math.MaxFloat64)},
		)
	}
	if kinds.Has(amf.KindString) {
		out = append(out,
			extreme{"empty_string", amf.String("")},
			extreme{"long_string", amf.String(strings.Repeat("A", longProbeString))},
		)
	}
	if kinds.Has(amf.KindArray) {
		large := &amf.Array{}
		for i := 0; i < 256; i++ {
			large.Dense = append(large.Dense, amf.Integer(0))
		}
		out = append(out,
			extreme{"empty_array", &amf.Array{}},
			extreme{"large_array", large},
		)
	}
	if kinds.Has(amf.KindBool) {
		out = append(out, extreme{"flip", amf.Bool(true)}, extreme{"flip", amf.Bool(false)})
	}
	return out
}

// confusedValue returns a value whose kind is outside the observed union.
func confusedValue(kinds amf.KindSet) amf.Value {
	options := []amf.Value{
		amf.String("confused"),
		amf.Integer(-1),
		amf.Bool(true),
		&amf.Array{Dense: []amf.Value{amf.Null{}}},
		amf.Null{},
	}
	for _, v := range options {
		if !kinds.Has(v.Kind()) {
			return v
		}
	}
	return amf.Undefined{}
}

// replaceField deep-copies a sample and swaps one slot. Slot keys follow
// the catalog convention: member keys for objects, "[n]" for dense
// positions, associative keys for array tails.
func replaceField(sample amf.Value, key string, value amf.Value) (amf.Value, bool) {
	clone := amf.Clone(sample)
	switch t := clone.(type) {
	case *amf.Object:
		for i := range t.Sealed {
			if t.Sealed[i].Key == key {
				t.Sealed[i].Value = value
				return t, true
			}
		}
		for i := range t.Dyn {
			if t.Dyn[i].Key == key {
				t.Dyn[i].Value = value
				return t, true
			}
		}
	case *amf.Array:
		for i := range t.Dense {
			if fmt.Sprintf("[%d]", i) == key {
				t.Dense[i] = value
				return t, true
			}
		}
		for i := range t.Assoc {
			if t.Assoc[i].Key == key {
				t.Assoc[i].Value = value
				return t, true
			}
		}
	default:
		if key == "[0]" {
			return value, true
		}
	}
	return nil, false
}
