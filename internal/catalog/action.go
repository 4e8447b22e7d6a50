package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/protoscope/internal/amf"
)

// DefaultSampleLimit bounds retained payloads per action.
const DefaultSampleLimit = 5

// FieldShape is one inferred parameter slot: a member key or a dense
// position, the union of observed kinds, and whether the slot has ever
// been absent after being present.
type FieldShape struct {
	Key      string
	Kinds    amf.KindSet
	Optional bool
}

// ProtocolAction is one learned remote operation.
type ProtocolAction struct {
	mu sync.Mutex

	Name       string
	Directions DirectionSet
	FirstSeen  time.Time
	LastSeen   time.Time
	Count      uint64
	Shape      []FieldShape
	Samples    []amf.Value
}

func newAction(name string, at time.Time) *ProtocolAction {
	return &ProtocolAction{Name: name, FirstSeen: at, LastSeen: at}
}

// snapshot copies the exported state without the lock.
func (a *ProtocolAction) snapshot() *ProtocolAction {
	out := &ProtocolAction{
		Name:       a.Name,
		Directions: a.Directions,
		FirstSeen:  a.FirstSeen,
		LastSeen:   a.LastSeen,
		Count:      a.Count,
	}
	out.Shape = append(out.Shape, a.Shape...)
	out.Samples = append(out.Samples, a.Samples...)
	return out
}

// observedField is one field extracted from a payload in wire order.
type observedField struct {
	key  string
	kind amf.Kind
}

// payloadFields flattens one payload into shape slots. Objects contribute
// member keys, arrays contribute dense positions plus associative keys,
// and a bare scalar contributes a single positional slot.
func payloadFields(payload amf.Value) []observedField {
	switch t := payload.(type) {
	case nil:
		return nil
	case *amf.Object:
		pairs := t.Pairs()
		out := make([]observedField, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, observedField{key: p.Key, kind: p.Value.Kind()})
		}
		return out
	case *amf.Array:
		out := make([]observedField, 0, len(t.Dense)+len(t.Assoc))
		for i, v := range t.Dense {
			out = append(out, observedField{key: fmt.Sprintf("[%d]", i), kind: v.Kind()})
		}
		for _, p := range t.Assoc {
			out = append(out, observedField{key: p.Key, kind: p.Value.Kind()})
		}
		return out
	default:
		return []observedField{{key: "[0]", kind: payload.Kind()}}
	}
}

// mergeShape unions observed fields into the action shape. Returns true
// when a slot was added or a kind set grew.
func (a *ProtocolAction) mergeShape(fields []observedField, firstObservation bool) bool {
	changed := false
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.key] = true
		idx := -1
		for i := range a.Shape {
			if a.Shape[i].Key == f.key {
				idx = i
				break
			}
		}
		if idx < 0 {
			a.Shape = append(a.Shape, FieldShape{
				Key:   f.key,
				Kinds: amf.KindSet(0).Add(f.kind),
				// A slot first seen after the action already existed was
				// absent in earlier observations.
				Optional: !firstObservation,
			})
			changed = true
			continue
		}
		if !a.Shape[idx].Kinds.Has(f.kind) {
			a.Shape[idx].Kinds = a.Shape[idx].Kinds.Add(f.kind)
			changed = true
		}
	}
	for i := range a.Shape {
		if !present[a.Shape[i].Key] && !a.Shape[i].Optional {
			a.Shape[i].Optional = true
			changed = true
		}
	}
	return changed
}

// retainSample appends structurally distinct payloads into the bounded
// ring, evicting the oldest. Returns true when the payload was new.
func (a *ProtocolAction) retainSample(payload amf.Value, limit int) bool {
	if payload == nil || limit <= 0 {
		return false
	}
	for _, s := range a.Samples {
		if amf.Equal(s, payload) {
			return false
		}
	}
	a.Samples = append(a.Samples, payload)
	if len(a.Samples) > limit {
		a.Samples = a.Samples[len(a.Samples)-limit:]
	}
	return true
}
