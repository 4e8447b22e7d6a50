package analyzer

import (
	"fmt"

	"github.com/danmuck/protoscope/internal/amf"
	"github.com/danmuck/protoscope/internal/catalog"
)

// ByteRange is one index-aligned run of differing bytes.
type ByteRange struct {
	Offset int
	Length int
}

// ValueChange is one structural change at a dotted path.
type ValueChange struct {
	Key  string
	From amf.Value
	To   amf.Value
}

// LenChange records a dense-array length difference.
type LenChange struct {
	Key  string
	From int
	To   int
}

// StructuralDiff lists member-level differences between two decoded
// object payloads sharing the same type name.
type StructuralDiff struct {
	Added    []string
	Removed  []string
	Changed  []ValueChange
	ArrayLen []LenChange
}

// FrameDiff is the result of comparing two frames.
type FrameDiff struct {
	// ByteRanges is a positional comparison: bytes at equal offsets,
	// not an edit-distance alignment.
	ByteRanges []ByteRange
	SizeDelta  int
	// Structural is set only when both frames decode to objects with
	// the same type name.
	Structural *StructuralDiff
}

// Diff compares two frames byte-wise and, when possible, structurally.
// Frames that have not been ingested are decoded here without touching
// ingestion accounting.
func (a *Analyzer) Diff(fa, fb *catalog.Frame) FrameDiff {
	out := FrameDiff{
		ByteRanges: byteDiff(fa.Raw, fb.Raw),
		SizeDelta:  len(fb.Raw) - len(fa.Raw),
	}

	va := decodedValues(fa)
	vb := decodedValues(fb)
	oa := firstObject(va)
	ob := firstObject(vb)
	if oa != nil && ob != nil && oa.TypeName == ob.TypeName {
		sd := &StructuralDiff{}
		diffObject("", oa, ob, sd)
		out.Structural = sd
	}
	return out
}

func decodedValues(f *catalog.Frame) []amf.Value {
	if f.Values != nil {
		return f.Values
	}
	values, err := amf.DecodeAll(f.Raw)
	if err != nil {
		return nil
	}
	return values
}

func firstObject(values []amf.Value) *amf.Object {
	for _, v := range values {
		if o, ok := v.(*amf.Object); ok {
			return o
		}
	}
	return nil
}

func byteDiff(a, b []byte) []ByteRange {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	var ranges []ByteRange
	start := -1
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			ranges = append(ranges, ByteRange{Offset: start, Length: i - start})
			start = -1
		}
	}
	if start >= 0 {
		ranges = append(ranges, ByteRange{Offset: start, Length: minLen - start})
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen > minLen {
		ranges = append(ranges, ByteRange{Offset: minLen, Length: maxLen - minLen})
	}
	return ranges
}

func path(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func diffObject(prefix string, a, b *amf.Object, sd *StructuralDiff) {
	ap := a.Pairs()
	bp := b.Pairs()
	bKeys := make(map[string]amf.Value, len(bp))
	for _, p := range bp {
		bKeys[p.Key] = p.Value
	}
	aKeys := make(map[string]bool, len(ap))

	for _, p := range ap {
		aKeys[p.Key] = true
		bv, ok := bKeys[p.Key]
		if !ok {
			sd.Removed = append(sd.Removed, path(prefix, p.Key))
			continue
		}
		diffValue(path(prefix, p.Key), p.Value, bv, sd)
	}
	for _, p := range bp {
		if !aKeys[p.Key] {
			sd.Added = append(sd.Added, path(prefix, p.Key))
		}
	}
}

func diffValue(key string, a, b amf.Value, sd *StructuralDiff) {
	if amf.Equal(a, b) {
		return
	}
	ao, aIsObj := a.(*amf.Object)
	bo, bIsObj := b.(*amf.Object)
	if aIsObj && bIsObj && ao.TypeName == bo.TypeName {
		diffObject(key, ao, bo, sd)
		return
	}
	aa, aIsArr := a.(*amf.Array)
	ba, bIsArr := b.(*amf.Array)
	if aIsArr && bIsArr {
		diffArray(key, aa, ba, sd)
		return
	}
	sd.Changed = append(sd.Changed, ValueChange{Key: key, From: a, To: b})
}

func diffArray(key string, a, b *amf.Array, sd *StructuralDiff) {
	if len(a.Dense) != len(b.Dense) {
		sd.ArrayLen = append(sd.ArrayLen, LenChange{Key: key, From: len(a.Dense), To: len(b.Dense)})
	}
	n := len(a.Dense)
	if len(b.Dense) < n {
		n = len(b.Dense)
	}
	for i := 0; i < n; i++ {
		diffValue(fmt.Sprintf("%s[%d]", key, i), a.Dense[i], b.Dense[i], sd)
	}

	bKeys := make(map[string]amf.Value, len(b.Assoc))
	for _, p := range b.Assoc {
		bKeys[p.Key] = p.Value
	}
	aKeys := make(map[string]bool, len(a.Assoc))
	for _, p := range a.Assoc {
		aKeys[p.Key] = true
		bv, ok := bKeys[p.Key]
		if !ok {
			sd.Removed = append(sd.Removed, path(key, p.Key))
			continue
		}
		diffValue(path(key, p.Key), p.Value, bv, sd)
	}
	for _, p := range b.Assoc {
		if !aKeys[p.Key] {
			sd.Added = append(sd.Added, path(key, p.Key))
		}
	}
}
