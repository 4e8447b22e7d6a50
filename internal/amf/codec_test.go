package amf

import (
	"bytes"
	"errors"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	raw, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := NewDecoder(raw).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !Equal(v, out) {
		t.Fatalf("round-trip mismatch: %#v != %#v", v, out)
	}
	return out
}

func TestRoundTripScalars(t *testing.T) {
	values := []Value{
		Undefined{},
		Null{},
		Bool(true),
		Bool(false),
		Integer(0),
		Integer(-1),
		Integer(IntegerMin),
		Integer(IntegerMax),
		Double(3.5),
		String(""),
		String("move.unit"),
		Date{Millis: 1724457600000},
		ByteArray{0xde, 0xad, 0xbe, 0xef},
		XMLDoc("<a/>"),
		XML("<b attr=\"1\"/>"),
	}
	for _, v := range values {
		roundTrip(t, v)
	}
}

func TestRoundTripObjectGraph(t *testing.T) {
	inner := &Object{
		TypeName: "Coord",
		Sealed:   []Pair{{Key: "x", Value: Integer(3)}, {Key: "y", Value: Integer(9)}},
	}
	arr := &Array{
		Dense: []Value{Integer(1), String("two"), Double(3.0)},
		Assoc: []Pair{{Key: "label", Value: String("spawn")}},
	}
	root := &Object{
		TypeName: "MoveCmd",
		Dynamic:  true,
		Sealed:   []Pair{{Key: "from", Value: inner}},
		Dyn: []Pair{
			{Key: "path", Value: arr},
			{Key: "silent", Value: Bool(true)},
		},
	}
	roundTrip(t, root)
}

func TestRoundTripMultipleTopLevel(t *testing.T) {
	payload := &Object{
		Dynamic: true,
		Dyn:     []Pair{{Key: "id", Value: Integer(7)}},
	}
	raw, err := Encode(String("city.enter"), payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	values, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 top-level values, got %d", len(values))
	}
	if !Equal(values[0], String("city.enter")) {
		t.Fatalf("command mismatch: %#v", values[0])
	}
	if !Equal(values[1], payload) {
		t.Fatalf("payload mismatch: %#v", values[1])
	}
}

func TestStringBackReference(t *testing.T) {
	arr := &Array{Dense: []Value{String("hero.march"), String("hero.march")}}
	raw, err := Encode(arr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// marker + count + terminator + (marker + inline string) + (marker + ref)
	inlineLen := 1 + 1 + 1 + (1 + 1 + len("hero.march")) + (1 + 1)
	if len(raw) != inlineLen {
		t.Fatalf("expected back-reference encoding of %d bytes, got %d", inlineLen, len(raw))
	}
	out, err := NewDecoder(raw).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := out.(*Array)
	if !Equal(got.Dense[0], got.Dense[1]) {
		t.Fatalf("dereferenced strings differ: %#v vs %#v", got.Dense[0], got.Dense[1])
	}
}

func TestSharedInstanceReference(t *testing.T) {
	shared := &Object{
		Dynamic: true,
		Dyn:     []Pair{{Key: "n", Value: Integer(1)}},
	}
	root := &Array{Dense: []Value{shared, shared}}
	raw, err := Encode(root)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := NewDecoder(raw).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := out.(*Array)
	if got.Dense[0].(*Object) != got.Dense[1].(*Object) {
		t.Fatalf("expected both elements to resolve to one instance")
	}
}

func TestTraitsReference(t *testing.T) {
	a := &Object{TypeName: "P", Sealed: []Pair{{Key: "v", Value: Integer(1)}}}
	b := &Object{TypeName: "P", Sealed: []Pair{{Key: "v", Value: Integer(2)}}}
	raw, err := Encode(a, b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	values, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !Equal(values[0], a) || !Equal(values[1], b) {
		t.Fatalf("traits reuse broke round-trip")
	}
}

func TestU29Boundaries(t *testing.T) {
	cases := []struct {
		v    uint32
		size int
	}{
		{0, 1},
		{0x7f, 1},
		{0x80, 2},
		{0x3fff, 2},
		{0x4000, 3},
		{0x1fffff, 3},
		{0x200000, 4},
		{0x1fffffff, 4},
	}
	for _, tc := range cases {
		enc := NewEncoder()
		enc.writeU29(tc.v)
		if len(enc.buf) != tc.size {
			t.Fatalf("u29 %#x: expected %d bytes, got %d", tc.v, tc.size, len(enc.buf))
		}
		d := NewDecoder(enc.buf)
		got, err := d.readU29()
		if err != nil {
			t.Fatalf("u29 %#x: %v", tc.v, err)
		}
		if got != tc.v {
			t.Fatalf("u29 round-trip: got %#x want %#x", got, tc.v)
		}
	}
}

func TestIntegerPromotion(t *testing.T) {
	raw, err := Encode(Integer(IntegerMax + 1))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw[0] != markerDouble {
		t.Fatalf("expected double marker for out-of-range integer, got 0x%02x", raw[0])
	}
	out, err := NewDecoder(raw).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !Equal(out, Double(float64(IntegerMax+1))) {
		t.Fatalf("promotion mismatch: %#v", out)
	}
}

func TestNegativeIntegerWire(t *testing.T) {
	for _, v := range []Integer{-1, -42, IntegerMin} {
		raw, err := Encode(v)
		if err != nil {
			t.Fatalf("encode %d: %v", v, err)
		}
		if raw[0] != markerInteger {
			t.Fatalf("expected integer marker for %d", v)
		}
		roundTrip(t, v)
	}
}

func TestMalformedVarint(t *testing.T) {
	// Three continuation bytes and no terminator.
	_, err := NewDecoder([]byte{markerInteger, 0xff, 0xff, 0xff}).Decode()
	if !errors.Is(err, ErrMalformedVarint) {
		t.Fatalf("expected ErrMalformedVarint, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Offset != 1 {
		t.Fatalf("expected offset 1, got %+v", de)
	}
}

func TestTruncatedInputs(t *testing.T) {
	good, err := Encode(&Object{
		Dynamic: true,
		Dyn:     []Pair{{Key: "name", Value: String("alliance.info")}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for cut := 1; cut < len(good); cut++ {
		_, decErr := NewDecoder(good[:cut]).Decode()
		if decErr == nil {
			t.Fatalf("expected error decoding %d/%d bytes", cut, len(good))
		}
		if !errors.Is(decErr, ErrTruncated) && !errors.Is(decErr, ErrMalformedVarint) {
			t.Fatalf("cut=%d: unexpected error %v", cut, decErr)
		}
	}
}

func TestUnknownMarker(t *testing.T) {
	_, err := NewDecoder([]byte{0x11}).Decode()
	if !errors.Is(err, ErrUnknownMarker) {
		t.Fatalf("expected ErrUnknownMarker, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Marker != 0x11 || de.Offset != 0 {
		t.Fatalf("unexpected detail: %+v", de)
	}
}

func TestBadReference(t *testing.T) {
	// String reference index 5 with an empty table.
	_, err := NewDecoder([]byte{markerString, 5 << 1}).Decode()
	if !errors.Is(err, ErrBadReference) {
		t.Fatalf("expected ErrBadReference, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Index != 5 {
		t.Fatalf("unexpected detail: %+v", de)
	}
}

func TestTablesDoNotLeakAcrossDecoders(t *testing.T) {
	raw, err := Encode(String("scout.send"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := NewDecoder(raw).Decode(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A back-reference that relied on the previous call's table must fail.
	_, err = NewDecoder([]byte{markerString, 0}).Decode()
	if !errors.Is(err, ErrBadReference) {
		t.Fatalf("expected ErrBadReference on fresh decoder, got %v", err)
	}
}

func TestExternalizableRejected(t *testing.T) {
	// Traits descriptor with the externalizable bit set.
	_, err := NewDecoder([]byte{markerObject, 0x07, 0x01}).Decode()
	if !errors.Is(err, ErrUnknownMarker) {
		t.Fatalf("expected ErrUnknownMarker for externalizable traits, got %v", err)
	}
}

func TestDepthLimit(t *testing.T) {
	raw := bytes.Repeat([]byte{markerArray, 0x03, 0x01}, MaxDepth+1)
	_, err := NewDecoder(raw).Decode()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated past depth limit, got %v", err)
	}
}

func TestEqualDistinguishesKinds(t *testing.T) {
	if Equal(Integer(1), Double(1)) {
		t.Fatalf("Integer and Double must not compare equal")
	}
	if Equal(Null{}, Undefined{}) {
		t.Fatalf("Null and Undefined must not compare equal")
	}
	if !Equal(Clone(&Array{Dense: []Value{Integer(1)}}), &Array{Dense: []Value{Integer(1)}}) {
		t.Fatalf("clone must compare equal")
	}
}
