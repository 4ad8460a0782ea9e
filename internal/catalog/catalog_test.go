package catalog

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

const fixture = "testdata/vehicle.dbc"

func mustLoad(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadFile(fixture)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return c
}

func TestParseFixture(t *testing.T) {
	c := mustLoad(t)
	if c.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", c.Len())
	}
	msgs := c.Messages()
	if msgs[0].Name != "EngineData" || msgs[1].Name != "BodyStatus" || msgs[2].Name != "J1939Proprietary" {
		t.Fatalf("declaration order lost: %s %s %s", msgs[0].Name, msgs[1].Name, msgs[2].Name)
	}
	eng := msgs[0]
	if len(eng.Signals) != 3 || eng.Signals[0].Name != "Speed" || eng.Signals[2].Name != "Ratio" {
		t.Fatalf("unexpected signals %+v", eng.Signals)
	}
	speed := eng.Signals[0]
	if speed.StartBit != 0 || speed.Length != 16 || speed.ByteOrder != LittleEndian || speed.ValueType != Unsigned {
		t.Fatalf("unexpected Speed layout %+v", speed)
	}
	if speed.Unit != "km/h" || speed.Factor != 0.1 {
		t.Fatalf("metadata not carried: %+v", speed)
	}
	temp, ok := eng.Signal("Temp")
	if !ok || temp.ValueType != Signed {
		t.Fatalf("Temp should be signed: %+v", temp)
	}
	flags, ok := msgs[1].Signal("Flags")
	if !ok || flags.ByteOrder != BigEndian {
		t.Fatalf("Flags should be big endian: %+v", flags)
	}
}

func TestLookupStandardVsExtended(t *testing.T) {
	c := mustLoad(t)
	if m, ok := c.Lookup(0x100, false); !ok || m.Name != "EngineData" {
		t.Fatalf("standard lookup failed: %v %v", m, ok)
	}
	if _, ok := c.Lookup(0x100, true); ok {
		t.Fatalf("extended 0x100 must not match standard definition")
	}
	m, ok := c.Lookup(0x18FEF1FE, true)
	if !ok || m.Name != "J1939Proprietary" {
		t.Fatalf("extended lookup failed: %v %v", m, ok)
	}
	if !m.Extended() || m.ID() != 0x18FEF1FE {
		t.Fatalf("unexpected id split key=0x%X id=0x%X", m.Key, m.ID())
	}
	if _, ok := c.Lookup(0x18FEF1FE, false); ok {
		t.Fatalf("standard lookup must not match extended definition")
	}
}

func TestExtendedValueTypeDefaults(t *testing.T) {
	c := mustLoad(t)
	if got := c.ExtendedValueType(0x100, "Ratio"); got != Float32 {
		t.Fatalf("Ratio: got %v", got)
	}
	if got := c.ExtendedValueType(Key(0x18FEF1FE, true), "Odometer"); got != Float64 {
		t.Fatalf("Odometer: got %v", got)
	}
	for _, sig := range []string{"Speed", "Temp", "missing"} {
		if got := c.ExtendedValueType(0x100, sig); got != Integer {
			t.Fatalf("%s: expected integer default, got %v", sig, got)
		}
	}
	var nilCat *Catalog
	if nilCat.ExtendedValueType(0x100, "Ratio") != Integer {
		t.Fatalf("nil catalog must default to integer")
	}
	if _, ok := nilCat.Lookup(0x100, false); ok {
		t.Fatalf("nil catalog must not match")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("bad.dbc", []byte("BO_ notanumber Foo: 8 ECU\n")); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.dbc")); !errors.Is(err, ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}

func TestNewAppliesAnnotations(t *testing.T) {
	msgs := []*MessageDefinition{{Key: 0x10, Name: "M", Signals: []SignalDefinition{{Name: "S", Length: 32}, {Name: "T", Length: 8}}}}
	c := New("mem", msgs,
		ValueTypeAnnotation{Key: 0x10, Signal: "S", Type: Float64},
		ValueTypeAnnotation{Key: 0x10, Signal: "S", Type: Float32},
	)
	if got := c.ExtendedValueType(0x10, "S"); got != Float32 {
		t.Fatalf("later annotation must win, got %v", got)
	}
	if got := c.ExtendedValueType(0x10, "T"); got != Integer {
		t.Fatalf("unannotated signal: got %v", got)
	}
	if c.Len() != 1 || c.Name() != "mem" {
		t.Fatalf("unexpected catalog %q len=%d", c.Name(), c.Len())
	}
}

func TestStoreSwap(t *testing.T) {
	var s Store
	if s.Load() != nil {
		t.Fatalf("new store must be empty")
	}
	c, err := s.LoadFile(fixture)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Load() != c {
		t.Fatalf("store not updated")
	}
	if _, err := s.LoadFile("testdata/nope.dbc"); err == nil {
		t.Fatalf("expected error")
	}
	if s.Load() != c {
		t.Fatalf("failed load must keep previous catalog")
	}
	s.Clear()
	if s.Load() != nil {
		t.Fatalf("clear did not unset")
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	var s Store
	a := New("a", nil)
	b := New("b", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if c := s.Load(); c != nil && c != a && c != b {
					t.Errorf("observed foreign catalog")
					return
				}
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		if j%2 == 0 {
			s.Set(a)
		} else {
			s.Set(b)
		}
	}
	wg.Wait()
}
