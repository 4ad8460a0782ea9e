// Package catalog turns DBC bus descriptions into queryable message
// definitions and holds the active catalog behind an atomic swap.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"go.einride.tech/can/pkg/dbc"

	"github.com/kstaniek/canscope/internal/can"
)

var (
	ErrRead  = errors.New("catalog read")
	ErrParse = errors.New("catalog parse")
)

// ByteOrder of a signal as declared in the catalog.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// ValueType selects signed or unsigned interpretation of integer signals.
type ValueType uint8

const (
	Unsigned ValueType = iota
	Signed
)

// ExtendedValueType is the SIG_VALTYPE_ annotation of a signal.
type ExtendedValueType uint8

const (
	Integer ExtendedValueType = iota
	Float32
	Float64
)

func (t ExtendedValueType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "integer"
	}
}

// SignalDefinition describes one bit field of a message.
// Factor, Offset, Minimum, Maximum and Unit are carried for display only;
// decoding never applies them.
type SignalDefinition struct {
	Name      string
	StartBit  uint
	Length    uint
	ByteOrder ByteOrder
	ValueType ValueType
	Factor    float64
	Offset    float64
	Minimum   float64
	Maximum   float64
	Unit      string
}

// MessageDefinition is one BO_ entry. Key carries bit 31 for extended ids.
type MessageDefinition struct {
	Key         uint32
	Name        string
	Size        uint
	Transmitter string
	Signals     []SignalDefinition
}

// ID returns the bare identifier without the extended marker.
func (m *MessageDefinition) ID() uint32 { return m.Key &^ can.CAN_EFF_FLAG }

// Extended reports whether the definition lives in the 29-bit space.
func (m *MessageDefinition) Extended() bool { return m.Key&can.CAN_EFF_FLAG != 0 }

// Signal returns the named signal.
func (m *MessageDefinition) Signal(name string) (*SignalDefinition, bool) {
	for i := range m.Signals {
		if m.Signals[i].Name == name {
			return &m.Signals[i], true
		}
	}
	return nil, false
}

type valueTypeKey struct {
	key    uint32
	signal string
}

// Catalog is an immutable set of message definitions.
type Catalog struct {
	name       string
	messages   []*MessageDefinition
	valueTypes map[valueTypeKey]ExtendedValueType
}

// Key computes the catalog comparison key for a frame identifier.
func Key(rawID uint32, extended bool) uint32 {
	if extended {
		return rawID | can.CAN_EFF_FLAG
	}
	return rawID
}

// LoadFile reads and parses a DBC file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return Parse(path, data)
}

// Parse builds a catalog from DBC text. name is used in error positions.
func Parse(name string, data []byte) (*Catalog, error) {
	p := dbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var (
		messages    []*MessageDefinition
		annotations []ValueTypeAnnotation
	)
	for _, def := range p.Defs() {
		switch d := def.(type) {
		case *dbc.MessageDef:
			messages = append(messages, messageFromDBC(d))
		case *dbc.SignalValueTypeDef:
			annotations = append(annotations, ValueTypeAnnotation{
				Key:    uint32(d.MessageID),
				Signal: string(d.SignalName),
				Type:   valueTypeFromDBC(d.SignalValueType),
			})
		}
	}
	return New(name, messages, annotations...), nil
}

func messageFromDBC(d *dbc.MessageDef) *MessageDefinition {
	m := &MessageDefinition{
		Key:         uint32(d.MessageID),
		Name:        string(d.Name),
		Size:        uint(d.Size),
		Transmitter: string(d.Transmitter),
		Signals:     make([]SignalDefinition, 0, len(d.Signals)),
	}
	for _, s := range d.Signals {
		sd := SignalDefinition{
			Name:     string(s.Name),
			StartBit: uint(s.StartBit),
			Length:   uint(s.Size),
			Factor:   s.Factor,
			Offset:   s.Offset,
			Minimum:  s.Minimum,
			Maximum:  s.Maximum,
			Unit:     s.Unit,
		}
		if s.IsBigEndian {
			sd.ByteOrder = BigEndian
		}
		if s.IsSigned {
			sd.ValueType = Signed
		}
		m.Signals = append(m.Signals, sd)
	}
	return m
}

func valueTypeFromDBC(t dbc.SignalValueType) ExtendedValueType {
	switch t {
	case dbc.SignalValueTypeFloat32:
		return Float32
	case dbc.SignalValueTypeFloat64:
		return Float64
	default:
		return Integer
	}
}

// ValueTypeAnnotation overrides the value type of one signal (SIG_VALTYPE_).
type ValueTypeAnnotation struct {
	Key    uint32
	Signal string
	Type   ExtendedValueType
}

// New assembles a catalog from already built definitions. A later annotation
// for the same signal replaces an earlier one.
func New(name string, messages []*MessageDefinition, annotations ...ValueTypeAnnotation) *Catalog {
	vt := make(map[valueTypeKey]ExtendedValueType, len(annotations))
	for _, a := range annotations {
		vt[valueTypeKey{key: a.Key, signal: a.Signal}] = a.Type
	}
	return &Catalog{name: name, messages: messages, valueTypes: vt}
}

// Name is the source the catalog was parsed from.
func (c *Catalog) Name() string { return c.name }

// Len returns the number of message definitions.
func (c *Catalog) Len() int { return len(c.messages) }

// Messages returns the definitions in declaration order.
func (c *Catalog) Messages() []*MessageDefinition {
	out := make([]*MessageDefinition, len(c.messages))
	copy(out, c.messages)
	return out
}

// Lookup returns the first definition matching the frame identifier.
func (c *Catalog) Lookup(rawID uint32, extended bool) (*MessageDefinition, bool) {
	if c == nil {
		return nil, false
	}
	key := Key(rawID, extended)
	for _, m := range c.messages {
		if m.Key == key {
			return m, true
		}
	}
	return nil, false
}

// ExtendedValueType returns the annotation for signalName of the message
// with the given key. Missing annotations, messages or signals all yield Integer.
func (c *Catalog) ExtendedValueType(key uint32, signalName string) ExtendedValueType {
	if c == nil {
		return Integer
	}
	if t, ok := c.valueTypes[valueTypeKey{key: key, signal: signalName}]; ok {
		return t
	}
	return Integer
}
