package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrNilValue  = errors.New("amf: cannot encode nil value")
	ErrValueSize = errors.New("amf: value exceeds wire size limit")
)

const maxInline = (1 << 28) - 1

// Encoder builds wire bytes for one frame. Reference tables live on the
// Encoder so repeated strings and repeated object/array instances are
// emitted as back-references.
type Encoder struct {
	buf     []byte
	strings map[string]uint32
	objects map[*Object]uint32
	arrays  map[*Array]uint32
	traits  map[string]uint32
}

func NewEncoder() *Encoder {
	return &Encoder{
		strings: make(map[string]uint32),
		objects: make(map[*Object]uint32),
		arrays:  make(map[*Array]uint32),
		traits:  make(map[string]uint32),
	}
}

// Bytes returns everything encoded so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Encode appends one value to the buffer.
func (e *Encoder) Encode(v Value) error {
	return e.encodeValue(v)
}

// Encode serializes back-to-back top-level values with shared tables.
func Encode(values ...Value) ([]byte, error) {
	enc := NewEncoder()
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return enc.Bytes(), nil
}

func (e *Encoder) encodeValue(v Value) error {
	switch t := v.(type) {
	case Undefined:
		e.buf = append(e.buf, markerUndefined)
	case Null:
		e.buf = append(e.buf, markerNull)
	case Bool:
		if t {
			e.buf = append(e.buf, markerTrue)
		} else {
			e.buf = append(e.buf, markerFalse)
		}
	case Integer:
		if t < IntegerMin || t > IntegerMax {
			// Out of the signed 29-bit range: promote to double.
			e.buf = append(e.buf, markerDouble)
			e.writeDouble(float64(t))
			return nil
		}
		e.buf = append(e.buf, markerInteger)
		e.writeU29(uint32(t) & 0x1fffffff)
	case Double:
		e.buf = append(e.buf, markerDouble)
		e.writeDouble(float64(t))
	case String:
		e.buf = append(e.buf, markerString)
		return e.writeStringVR(string(t))
	case XMLDoc:
		e.buf = append(e.buf, markerXMLDoc)
		return e.writeInline([]byte(t))
	case XML:
		e.buf = append(e.buf, markerXML)
		return e.writeInline([]byte(t))
	case Date:
		e.buf = append(e.buf, markerDate)
		e.writeU29(1)
		e.writeDouble(t.Millis)
	case ByteArray:
		e.buf = append(e.buf, markerByteArray)
		return e.writeInline(t)
	case *Array:
		return e.encodeArray(t)
	case *Object:
		return e.encodeObject(t)
	case nil:
		return ErrNilValue
	default:
		return fmt.Errorf("amf: unencodable value kind %v", v.Kind())
	}
	return nil
}

func (e *Encoder) writeU29(v uint32) {
	v &= 0x1fffffff
	switch {
	case v < 0x80:
		e.buf = append(e.buf, byte(v))
	case v < 0x4000:
		e.buf = append(e.buf, byte(v>>7)|0x80, byte(v&0x7f))
	case v < 0x200000:
		e.buf = append(e.buf, byte(v>>14)|0x80, byte(v>>7)|0x80, byte(v&0x7f))
	default:
		e.buf = append(e.buf,
			byte(v>>22)|0x80, byte(v>>15)|0x80, byte(v>>8)|0x80, byte(v))
	}
}

func (e *Encoder) writeDouble(f float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	e.buf = append(e.buf, b[:]...)
}

// writeStringVR emits a back-reference for any non-empty string already
// in the table, otherwise registers and inlines it.
func (e *Encoder) writeStringVR(s string) error {
	if s == "" {
		e.writeU29(1)
		return nil
	}
	if idx, ok := e.strings[s]; ok {
		e.writeU29(idx << 1)
		return nil
	}
	if len(s) > maxInline {
		return ErrValueSize
	}
	e.strings[s] = uint32(len(e.strings))
	e.writeU29(uint32(len(s))<<1 | 1)
	e.buf = append(e.buf, s...)
	return nil
}

func (e *Encoder) writeInline(b []byte) error {
	if len(b) > maxInline {
		return ErrValueSize
	}
	e.writeU29(uint32(len(b))<<1 | 1)
	e.buf = append(e.buf, b...)
	return nil
}

func (e *Encoder) encodeArray(a *Array) error {
	if a == nil {
		return ErrNilValue
	}
	e.buf = append(e.buf, markerArray)
	if idx, ok := e.arrays[a]; ok {
		e.writeU29(idx << 1)
		return nil
	}
	if len(a.Dense) > maxInline {
		return ErrValueSize
	}
	e.arrays[a] = uint32(len(e.arrays))
	e.writeU29(uint32(len(a.Dense))<<1 | 1)
	for _, p := range a.Assoc {
		if err := e.writeStringVR(p.Key); err != nil {
			return err
		}
		if err := e.encodeValue(p.Value); err != nil {
			return err
		}
	}
	e.writeU29(1)
	for _, v := range a.Dense {
		if err := e.encodeValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeObject(o *Object) error {
	if o == nil {
		return ErrNilValue
	}
	e.buf = append(e.buf, markerObject)
	if idx, ok := e.objects[o]; ok {
		e.writeU29(idx << 1)
		return nil
	}
	e.objects[o] = uint32(len(e.objects))

	key := traitsKey(o)
	if idx, ok := e.traits[key]; ok {
		e.writeU29(idx<<2 | 1)
	} else {
		if len(o.Sealed) > maxInline>>3 {
			return ErrValueSize
		}
		e.traits[key] = uint32(len(e.traits))
		u := uint32(len(o.Sealed))<<4 | 0x03
		if o.Dynamic {
			u |= 0x08
		}
		e.writeU29(u)
		if err := e.writeStringVR(o.TypeName); err != nil {
			return err
		}
		for _, p := range o.Sealed {
			if err := e.writeStringVR(p.Key); err != nil {
				return err
			}
		}
	}

	for _, p := range o.Sealed {
		if err := e.encodeValue(p.Value); err != nil {
			return err
		}
	}
	if o.Dynamic {
		for _, p := range o.Dyn {
			if p.Key == "" {
				return fmt.Errorf("amf: empty dynamic member key on %q", o.TypeName)
			}
			if err := e.writeStringVR(p.Key); err != nil {
				return err
			}
			if err := e.encodeValue(p.Value); err != nil {
				return err
			}
		}
		e.writeU29(1)
	}
	return nil
}

func traitsKey(o *Object) string {
	var sb strings.Builder
	sb.WriteString(o.TypeName)
	sb.WriteByte(0)
	if o.Dynamic {
		sb.WriteByte(1)
	} else {
		sb.WriteByte(0)
	}
	for _, p := range o.Sealed {
		sb.WriteByte(0)
		sb.WriteString(p.Key)
	}
	return sb.String()
}
