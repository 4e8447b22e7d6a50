package amf

import "strings"

// Kind identifies one member of the closed Value union.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInteger
	KindDouble
	KindString
	KindXMLDoc
	KindDate
	KindArray
	KindObject
	KindXML
	KindByteArray
)

var kindNames = [...]string{
	KindUndefined: "Undefined",
	KindNull:      "Null",
	KindBool:      "Bool",
	KindInteger:   "Integer",
	KindDouble:    "Double",
	KindString:    "String",
	KindXMLDoc:    "XMLDoc",
	KindDate:      "Date",
	KindArray:     "Array",
	KindObject:    "Object",
	KindXML:       "XML",
	KindByteArray: "ByteArray",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Signed 29-bit integer bounds. Values outside this range travel as doubles.
const (
	IntegerMin = -(1 << 28)
	IntegerMax = (1 << 28) - 1
)

// Value is one node of a decoded object graph. The union is closed:
// consumers switch exhaustively over the kinds above.
type Value interface {
	Kind() Kind
}

type Undefined struct{}

type Null struct{}

type Bool bool

// Integer holds a value inside the signed 29-bit wire range.
type Integer int32

type Double float64

type String string

// XMLDoc is raw markup carried with the legacy document marker.
type XMLDoc string

// XML is raw markup carried with the modern marker.
type XML string

// Date is epoch milliseconds, UTC. The wire format carries no timezone.
type Date struct {
	Millis float64
}

type ByteArray []byte

// Pair is one ordered string-keyed member.
type Pair struct {
	Key   string
	Value Value
}

// Array is a dense ordered sequence plus an associative tail.
// Arrays are reference-tracked by instance, so share *Array pointers
// to express repeated occurrences of the same instance.
type Array struct {
	Dense []Value
	Assoc []Pair
}

// Object is an optionally typed, ordered string-keyed mapping. Sealed
// members come from the traits descriptor; Dyn holds dynamic members.
type Object struct {
	TypeName string
	Dynamic  bool
	Sealed   []Pair
	Dyn      []Pair
}

func (Undefined) Kind() Kind { return KindUndefined }
func (Null) Kind() Kind      { return KindNull }
func (Bool) Kind() Kind      { return KindBool }
func (Integer) Kind() Kind   { return KindInteger }
func (Double) Kind() Kind    { return KindDouble }
func (String) Kind() Kind    { return KindString }
func (XMLDoc) Kind() Kind    { return KindXMLDoc }
func (XML) Kind() Kind       { return KindXML }
func (Date) Kind() Kind      { return KindDate }
func (ByteArray) Kind() Kind { return KindByteArray }
func (*Array) Kind() Kind    { return KindArray }
func (*Object) Kind() Kind   { return KindObject }

// Member looks a key up across sealed then dynamic members.
func (o *Object) Member(key string) (Value, bool) {
	for _, p := range o.Sealed {
		if p.Key == key {
			return p.Value, true
		}
	}
	for _, p := range o.Dyn {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Pairs returns all members in wire order: sealed first, then dynamic.
func (o *Object) Pairs() []Pair {
	out := make([]Pair, 0, len(o.Sealed)+len(o.Dyn))
	out = append(out, o.Sealed...)
	out = append(out, o.Dyn...)
	return out
}

// KindSet is a bitmask over Kind, used for union-typed shape inference.
type KindSet uint16

func (s KindSet) Has(k Kind) bool { return s&(1<<k) != 0 }

func (s KindSet) Add(k Kind) KindSet { return s | (1 << k) }

// String renders the set as "Integer|Double" style, in Kind order.
func (s KindSet) String() string {
	if s == 0 {
		return "None"
	}
	parts := make([]string, 0, 4)
	for k := KindUndefined; k <= KindByteArray; k++ {
		if s.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}
