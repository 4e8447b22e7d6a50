package amf

import "bytes"

type refPair struct {
	a, b any
}

// Equal reports deep structural equality, ignoring reference-table
// bookkeeping. Shared-instance cycles are treated as equal once both
// sides revisit the same pair.
func Equal(a, b Value) bool {
	return equalValue(a, b, make(map[refPair]bool))
}

func equalValue(a, b Value, seen map[refPair]bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Undefined, Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Integer:
		return av == b.(Integer)
	case Double:
		return av == b.(Double)
	case String:
		return av == b.(String)
	case XMLDoc:
		return av == b.(XMLDoc)
	case XML:
		return av == b.(XML)
	case Date:
		return av.Millis == b.(Date).Millis
	case ByteArray:
		return bytes.Equal(av, b.(ByteArray))
	case *Array:
		return equalArray(av, b.(*Array), seen)
	case *Object:
		return equalObject(av, b.(*Object), seen)
	default:
		return false
	}
}

func equalArray(a, b *Array, seen map[refPair]bool) bool {
	if a == b {
		return true
	}
	pair := refPair{a, b}
	if seen[pair] {
		return true
	}
	seen[pair] = true
	if len(a.Dense) != len(b.Dense) || len(a.Assoc) != len(b.Assoc) {
		return false
	}
	for i := range a.Dense {
		if !equalValue(a.Dense[i], b.Dense[i], seen) {
			return false
		}
	}
	return equalPairs(a.Assoc, b.Assoc, seen)
}

func equalObject(a, b *Object, seen map[refPair]bool) bool {
	if a == b {
		return true
	}
	pair := refPair{a, b}
	if seen[pair] {
		return true
	}
	seen[pair] = true
	if a.TypeName != b.TypeName || a.Dynamic != b.Dynamic {
		return false
	}
	if len(a.Sealed) != len(b.Sealed) || len(a.Dyn) != len(b.Dyn) {
		return false
	}
	return equalPairs(a.Sealed, b.Sealed, seen) && equalPairs(a.Dyn, b.Dyn, seen)
}

func equalPairs(a, b []Pair, seen map[refPair]bool) bool {
	for i := range a {
		if a[i].Key != b[i].Key || !equalValue(a[i].Value, b[i].Value, seen) {
			return false
		}
	}
	return true
}

// Clone deep-copies a value graph, preserving shared-instance structure.
func Clone(v Value) Value {
	return cloneValue(v, make(map[any]Value))
}

func cloneValue(v Value, memo map[any]Value) Value {
	switch t := v.(type) {
	case ByteArray:
		out := make(ByteArray, len(t))
		copy(out, t)
		return out
	case *Array:
		if dup, ok := memo[t]; ok {
			return dup
		}
		out := &Array{}
		memo[t] = out
		for _, d := range t.Dense {
			out.Dense = append(out.Dense, cloneValue(d, memo))
		}
		for _, p := range t.Assoc {
			out.Assoc = append(out.Assoc, Pair{Key: p.Key, Value: cloneValue(p.Value, memo)})
		}
		return out
	case *Object:
		if dup, ok := memo[t]; ok {
			return dup
		}
		out := &Object{TypeName: t.TypeName, Dynamic: t.Dynamic}
		memo[t] = out
		for _, p := range t.Sealed {
			out.Sealed = append(out.Sealed, Pair{Key: p.Key, Value: cloneValue(p.Value, memo)})
		}
		for _, p := range t.Dyn {
			out.Dyn = append(out.Dyn, Pair{Key: p.Key, Value: cloneValue(p.Value, memo)})
		}
		return out
	default:
		return v
	}
}
