package arengo

import (
	"fmt"
	"math"

	"github.com/hupe1980/arengo/internal/handletable"
)

// Handle identifies an arena-allocated value. Handles stay valid across
// compaction moves and promotions return fresh ones; a handle never encodes
// a memory address.
type Handle = handletable.Handle

// Kind discriminates the payload of a Value.
type Kind uint8

const (
	// KindNil is the zero Value, carrying no payload.
	KindNil Kind = iota
	// KindInt is a signed 64-bit integer.
	KindInt
	// KindFloat is a 64-bit float.
	KindFloat
	// KindBool is a boolean.
	KindBool
	// KindHandle is an arena-backed value identified by a Handle.
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindHandle:
		return "handle"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the tagged result slot of a spawned thread: either a machine
// primitive carried by value or a Handle into an arena.
type Value struct {
	kind Kind
	bits uint64
	h    Handle
}

// IntValue wraps a signed integer.
func IntValue(v int64) Value {
	return Value{kind: KindInt, bits: uint64(v)}
}

// FloatValue wraps a 64-bit float.
func FloatValue(v float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(v)}
}

// BoolValue wraps a boolean.
func BoolValue(v bool) Value {
	var bits uint64
	if v {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

// HandleValue wraps an arena handle.
func HandleValue(h Handle) Value {
	return Value{kind: KindHandle, h: h}
}

// Kind returns the payload discriminator.
func (v Value) Kind() Kind { return v.kind }

// IsHandle reports whether the value is arena-backed.
func (v Value) IsHandle() bool { return v.kind == KindHandle }

// Int returns the integer payload. The caller guarantees the kind;
// a mismatch is a defect in generated code.
func (v Value) Int() int64 {
	v.mustBe(KindInt)
	return int64(v.bits)
}

// Float returns the float payload.
func (v Value) Float() float64 {
	v.mustBe(KindFloat)
	return math.Float64frombits(v.bits)
}

// Bool returns the boolean payload.
func (v Value) Bool() bool {
	v.mustBe(KindBool)
	return v.bits != 0
}

// Handle returns the handle payload.
func (v Value) Handle() Handle {
	v.mustBe(KindHandle)
	return v.h
}

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("arengo: value kind is %s, not %s", v.kind, k))
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("int(%d)", int64(v.bits))
	case KindFloat:
		return fmt.Sprintf("float(%g)", math.Float64frombits(v.bits))
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.bits != 0)
	case KindHandle:
		return fmt.Sprintf("handle(%s)", v.h)
	default:
		return "nil"
	}
}
