// Package codec implements the pluggable Channel payload codecs (spec.md
// §4.8): a default equivalent to the historical Storable format, and a
// faster alternative analogous to Sereal. Grounded on cloudwego-kitex's
// use of github.com/bytedance/sonic for a fast, non-default codec path;
// the default uses encoding/gob, the stdlib's own closest analogue to
// Storable (self-describing, type-registry based, no schema file needed)
// and is kept as stdlib deliberately: gob is already the idiomatic Go
// "default object serialisation" the way Storable is Perl's, so reaching
// past it for the default slot would fight the grain of the ecosystem
// rather than follow it.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/bytedance/sonic"
)

// []interface{} is how Routine/Channel frame their call and return
// args (spec.md §4.10) — common enough to register here rather than
// make every package that sends one call RegisterGobType itself.
func init() {
	gob.Register([]interface{}{})
}

// Codec encodes and decodes the Go value carried by one Channel frame.
// spec.md is explicit that wire compatibility between codecs is not
// required — only that both peers of one channel agree.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	Name() string
}

// Gob is the default codec.
type Gob struct{}

// gobFrame carries every Gob-encoded value through an interface-typed
// field. gob only knows how to decode a wire value into an interface{}
// destination (Channel's recv side has no static type to decode into)
// if that value was itself sent through an interface-typed field — a
// bare top-level Encode/Decode(*interface{}) pair fails with "local
// interface type *interface {} can only be decoded from remote
// interface type". Wrapping in gobFrame buys that indirection for
// every caller, typed or not. Any concrete type carried this way must
// be registered once with RegisterGobType.
type gobFrame struct {
	V interface{}
}

func (Gob) Name() string { return "gob" }

func (Gob) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobFrame{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(data []byte, v interface{}) error {
	var frame gobFrame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&frame); err != nil {
		return err
	}
	if target, ok := v.(*interface{}); ok {
		*target = frame.V
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("codec: gob decode target must be a non-nil pointer")
	}
	if frame.V == nil {
		return nil
	}
	dv := reflect.ValueOf(frame.V)
	if !dv.Type().AssignableTo(rv.Elem().Type()) {
		return fmt.Errorf("codec: gob decode: cannot assign %s into %s", dv.Type(), rv.Elem().Type())
	}
	rv.Elem().Set(dv)
	return nil
}

// RegisterGobType makes a concrete type usable as the dynamic payload
// of a Gob-coded Channel frame. It must be called once per concrete
// type (not per value) before that type is ever sent — the same
// requirement encoding/gob itself imposes on values carried through an
// interface-typed field. Built-in types (ints, strings, slices/maps of
// them) are already registered by the gob package and need no call.
func RegisterGobType(value interface{}) {
	gob.Register(value)
}

// Sonic is the faster alternative codec, offered the way Sereal is
// offered alongside Storable: opt-in, not default.
type Sonic struct{}

func (Sonic) Name() string { return "sonic" }

func (Sonic) Encode(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

func (Sonic) Decode(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// ByName resolves a codec by spec.md's configuration-time name.
func ByName(name string) Codec {
	switch name {
	case "sonic":
		return Sonic{}
	default:
		return Gob{}
	}
}
