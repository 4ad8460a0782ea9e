// Package decode turns frame table entries into named, human-readable records.
package decode

import (
	"strconv"

	"github.com/kstaniek/canscope/internal/catalog"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/signal"
	"github.com/kstaniek/canscope/internal/table"
)

// Field is one decoded signal, or one raw payload byte for unknown frames.
type Field struct {
	Name  string `json:"name,omitempty" cbor:"name,omitempty"`
	Value string `json:"value" cbor:"value"`
	Unit  string `json:"unit,omitempty" cbor:"unit,omitempty"`
	Error string `json:"error,omitempty" cbor:"error,omitempty"`
}

// Record is the decoded view of one table entry.
type Record struct {
	TimestampUs uint64  `json:"timestamp_us" cbor:"timestamp_us"`
	FrequencyHz float64 `json:"frequency_hz" cbor:"frequency_hz"`
	ID          uint32  `json:"id" cbor:"id"`
	Name        string  `json:"name" cbor:"name"`
	Known       bool    `json:"known" cbor:"known"`
	Fields      []Field `json:"fields" cbor:"fields"`
	Extended    bool    `json:"extended" cbor:"extended"`
}

// Errors counts fields that failed to decode.
func (r Record) Errors() int {
	n := 0
	for _, f := range r.Fields {
		if f.Error != "" {
			n++
		}
	}
	return n
}

// Row flattens the record to timestamp, frequency, id, name, values..., extended.
// Failed fields render as their error text.
func (r Record) Row() []string {
	row := make([]string, 0, len(r.Fields)*2+5)
	row = append(row,
		strconv.FormatUint(r.TimestampUs, 10),
		strconv.FormatFloat(r.FrequencyHz, 'f', -1, 64),
		strconv.FormatUint(uint64(r.ID), 10),
		r.Name,
	)
	for _, f := range r.Fields {
		if f.Name != "" {
			row = append(row, f.Name)
		}
		if f.Error != "" {
			row = append(row, f.Error)
			continue
		}
		row = append(row, f.Value)
	}
	return append(row, strconv.FormatBool(r.Extended))
}

// Decode renders e using cat. A nil catalog or an unknown identifier yields
// a record with empty name and one field per raw payload byte.
func Decode(e table.Entry, cat *catalog.Catalog) Record {
	fr := e.Frame
	rec := Record{
		TimestampUs: e.LastSeenUs,
		FrequencyHz: e.FrequencyHz,
		ID:          fr.ID,
		Extended:    fr.Extended,
	}
	msg, ok := cat.Lookup(fr.ID, fr.Extended)
	if !ok {
		payload := fr.Payload()
		rec.Fields = make([]Field, len(payload))
		for i, b := range payload {
			rec.Fields[i] = Field{Value: strconv.FormatUint(uint64(b), 10)}
		}
		return rec
	}
	rec.Known = true
	rec.Name = msg.Name
	rec.Fields = make([]Field, 0, len(msg.Signals))
	for i := range msg.Signals {
		sig := &msg.Signals[i]
		f := Field{Name: sig.Name, Unit: sig.Unit}
		v, err := Signal(fr.Payload(), sig, cat.ExtendedValueType(msg.Key, sig.Name))
		if err != nil {
			metrics.IncDecodeError()
			f.Error = err.Error()
		} else {
			f.Value = v
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec
}

// Signal decodes one signal from payload and formats the raw value.
func Signal(payload []byte, sig *catalog.SignalDefinition, vt catalog.ExtendedValueType) (string, error) {
	data := payload
	if sig.ByteOrder == catalog.BigEndian {
		data = signal.ReverseBitOrder(payload)
	}
	switch vt {
	case catalog.Float32:
		v, err := signal.DecodeFloat32(data, sig.StartBit)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case catalog.Float64:
		v, err := signal.DecodeFloat64(data, sig.StartBit)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	if sig.ValueType == catalog.Signed {
		v, err := signal.ExtractSigned(data, sig.StartBit, sig.Length)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	}
	v, err := signal.ExtractUnsigned(data, sig.StartBit, sig.Length)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(v, 10), nil
}

// Table decodes every entry, ordered as given.
func Table(entries []table.Entry, cat *catalog.Catalog) []Record {
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = Decode(e, cat)
	}
	return out
}
