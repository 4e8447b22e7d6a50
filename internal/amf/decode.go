package amf

import (
	"encoding/binary"
	"math"
)

// Type markers.
const (
	markerUndefined byte = 0x00
	markerNull      byte = 0x01
	markerFalse     byte = 0x02
	markerTrue      byte = 0x03
	markerInteger   byte = 0x04
	markerDouble    byte = 0x05
	markerString    byte = 0x06
	markerXMLDoc    byte = 0x07
	markerDate      byte = 0x08
	markerArray     byte = 0x09
	markerObject    byte = 0x0a
	markerXML       byte = 0x0b
	markerByteArray byte = 0x0c
)

// MaxDepth bounds value nesting so hostile input cannot exhaust the stack.
const MaxDepth = 128

type traitsDef struct {
	typeName string
	dynamic  bool
	members  []string
}

// Decoder consumes values from a byte slice at an explicit cursor.
// Reference tables live on the Decoder and are dropped with it, so each
// frame must be decoded with a fresh Decoder.
type Decoder struct {
	buf   []byte
	off   int
	depth int

	strings []string
	objects []*Object
	arrays  []*Array
	byteArr []ByteArray
	dates   []Date
	xmlDocs []XMLDoc
	xmls    []XML
	traits  []*traitsDef
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Offset reports the cursor position in bytes.
func (d *Decoder) Offset() int { return d.off }

// More reports whether undecoded bytes remain.
func (d *Decoder) More() bool { return d.off < len(d.buf) }

// Decode consumes one value from the cursor.
func (d *Decoder) Decode() (Value, error) {
	return d.decodeValue()
}

// DecodeAll consumes back-to-back top-level values until the buffer is
// exhausted. A frame may carry a command string followed by a payload.
func (d *Decoder) DecodeAll() ([]Value, error) {
	var out []Value
	for d.More() {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeAll decodes every top-level value in buf with fresh tables.
func DecodeAll(buf []byte) ([]Value, error) {
	return NewDecoder(buf).DecodeAll()
}

func (d *Decoder) decodeValue() (Value, error) {
	if d.depth >= MaxDepth {
		return nil, errTruncated(d.off)
	}
	d.depth++
	defer func() { d.depth-- }()

	if d.off >= len(d.buf) {
		return nil, errTruncated(d.off)
	}
	markerOff := d.off
	m := d.buf[d.off]
	d.off++

	switch m {
	case markerUndefined:
		return Undefined{}, nil
	case markerNull:
		return Null{}, nil
	case markerFalse:
		return Bool(false), nil
	case markerTrue:
		return Bool(true), nil
	case markerInteger:
		return d.decodeInteger()
	case markerDouble:
		f, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		return Double(f), nil
	case markerString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case markerXMLDoc:
		return d.decodeXMLDoc()
	case markerDate:
		return d.decodeDate()
	case markerArray:
		return d.decodeArray()
	case markerObject:
		return d.decodeObject()
	case markerXML:
		return d.decodeXML()
	case markerByteArray:
		return d.decodeByteArray()
	default:
		return nil, errUnknownMarker(m, markerOff)
	}
}

// readU29 reads a variable-length unsigned 29-bit integer: up to three
// continuation bytes of 7 payload bits, then a final byte carrying 8 bits
// in the 4-byte form. Running out of bytes mid-varint is malformed.
func (d *Decoder) readU29() (uint32, error) {
	start := d.off
	var v uint32
	for i := 0; i < 4; i++ {
		if d.off >= len(d.buf) {
			if i == 0 {
				return 0, errTruncated(start)
			}
			return 0, errMalformedVarint(start)
		}
		b := d.buf[d.off]
		d.off++
		if i == 3 {
			return v<<8 | uint32(b), nil
		}
		if b&0x80 == 0 {
			return v<<7 | uint32(b), nil
		}
		v = v<<7 | uint32(b&0x7f)
	}
	return 0, errMalformedVarint(start)
}

func (d *Decoder) readDouble() (float64, error) {
	if len(d.buf)-d.off < 8 {
		return 0, errTruncated(d.off)
	}
	bits := binary.BigEndian.Uint64(d.buf[d.off : d.off+8])
	d.off += 8
	return math.Float64frombits(bits), nil
}

// readString reads a UTF-8-vr: low bit clear is a back-reference, set is
// an inline string registered in the table. The empty string is never
// referenced or registered.
func (d *Decoder) readString() (string, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return "", err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.strings) {
			return "", errBadReference(idx, start)
		}
		return d.strings[idx], nil
	}
	n := int(u >> 1)
	if n == 0 {
		return "", nil
	}
	if len(d.buf)-d.off < n {
		return "", errTruncated(d.off)
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	d.strings = append(d.strings, s)
	return s, nil
}

func (d *Decoder) decodeInteger() (Value, error) {
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&0x10000000 != 0 {
		return Integer(int32(u) - (1 << 29)), nil
	}
	return Integer(u), nil
}

func (d *Decoder) decodeDate() (Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.dates) {
			return nil, errBadReference(idx, start)
		}
		return d.dates[idx], nil
	}
	f, err := d.readDouble()
	if err != nil {
		return nil, err
	}
	v := Date{Millis: f}
	d.dates = append(d.dates, v)
	return v, nil
}

func (d *Decoder) decodeByteArray() (Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.byteArr) {
			return nil, errBadReference(idx, start)
		}
		return d.byteArr[idx], nil
	}
	n := int(u >> 1)
	if len(d.buf)-d.off < n {
		return nil, errTruncated(d.off)
	}
	b := make(ByteArray, n)
	copy(b, d.buf[d.off:d.off+n])
	d.off += n
	d.byteArr = append(d.byteArr, b)
	return b, nil
}

func (d *Decoder) decodeXMLDoc() (Value, error) {
	s, err := d.readMarkup(func(idx int) (string, bool) {
		if idx >= len(d.xmlDocs) {
			return "", false
		}
		return string(d.xmlDocs[idx]), true
	})
	if err != nil {
		return nil, err
	}
	v := XMLDoc(s)
	d.xmlDocs = append(d.xmlDocs, v)
	return v, nil
}

func (d *Decoder) decodeXML() (Value, error) {
	s, err := d.readMarkup(func(idx int) (string, bool) {
		if idx >= len(d.xmls) {
			return "", false
		}
		return string(d.xmls[idx]), true
	})
	if err != nil {
		return nil, err
	}
	v := XML(s)
	d.xmls = append(d.xmls, v)
	return v, nil
}

func (d *Decoder) readMarkup(lookup func(int) (string, bool)) (string, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return "", err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		s, ok := lookup(idx)
		if !ok {
			return "", errBadReference(idx, start)
		}
		return s, nil
	}
	n := int(u >> 1)
	if len(d.buf)-d.off < n {
		return "", errTruncated(d.off)
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s, nil
}

func (d *Decoder) decodeArray() (Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.arrays) {
			return nil, errBadReference(idx, start)
		}
		return d.arrays[idx], nil
	}
	dense := int(u >> 1)

	// Register before members so self-references resolve backward.
	arr := &Array{}
	d.arrays = append(d.arrays, arr)

	for {
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		arr.Assoc = append(arr.Assoc, Pair{Key: key, Value: v})
	}
	for i := 0; i < dense; i++ {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		arr.Dense = append(arr.Dense, v)
	}
	return arr, nil
}

func (d *Decoder) decodeObject() (Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.objects) {
			return nil, errBadReference(idx, start)
		}
		return d.objects[idx], nil
	}

	var tr *traitsDef
	if u&2 == 0 {
		idx := int(u >> 2)
		if idx >= len(d.traits) {
			return nil, errBadReference(idx, start)
		}
		tr = d.traits[idx]
	} else {
		if u&4 != 0 {
			// Externalizable bodies are opaque without a class registry;
			// continuing would desynchronize the cursor.
			return nil, errUnknownMarker(markerObject, start)
		}
		dynamic := u&8 != 0
		count := int(u >> 4)
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		tr = &traitsDef{typeName: name, dynamic: dynamic}
		for i := 0; i < count; i++ {
			member, err := d.readString()
			if err != nil {
				return nil, err
			}
			tr.members = append(tr.members, member)
		}
		d.traits = append(d.traits, tr)
	}

	obj := &Object{TypeName: tr.typeName, Dynamic: tr.dynamic}
	d.objects = append(d.objects, obj)

	for _, name := range tr.members {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		obj.Sealed = append(obj.Sealed, Pair{Key: name, Value: v})
	}
	if tr.dynamic {
		for {
			key, err := d.readString()
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			v, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			obj.Dyn = append(obj.Dyn, Pair{Key: key, Value: v})
		}
	}
	return obj, nil
}
