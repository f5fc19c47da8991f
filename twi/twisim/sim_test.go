package twisim

import (
	"testing"

	"asynctwi/twi"
)

type recorder struct {
	evs []twi.Event
}

func (r *recorder) HandleEvent(ev twi.Event, data byte) { r.evs = append(r.evs, ev) }

func newBus(t *testing.T) (*Bus, *recorder) {
	t.Helper()
	b := New()
	rec := &recorder{}
	if err := b.Configure(twi.Config{Frequency: 100_000}, rec); err != nil {
		t.Fatal(err)
	}
	b.Enable()
	return b, rec
}

func TestOpString(t *testing.T) {
	cases := map[string]Op{
		"S":           {Kind: OpStart},
		"Sr":          {Kind: OpRepStart},
		"A 0xa0 ack":  {Kind: OpAddr, Byte: 0xA0, Ack: true},
		"W 0x01 nack": {Kind: OpWrite, Byte: 0x01},
		"R 0xff ack":  {Kind: OpRead, Byte: 0xFF, Ack: true},
		"P":           {Kind: OpStop},
		"release":     {Kind: OpRelease},
		"fault":       {Kind: OpFault},
	}
	for want, op := range cases {
		if got := op.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", op, got, want)
		}
	}
}

func TestCommandEvents(t *testing.T) {
	b, rec := newBus(t)
	m := NewMemory()
	b.Attach(0x50, m)

	b.Start()
	b.Drain()
	b.Write(0xA0)
	b.Drain()
	b.Write(0x07)
	b.Drain()
	b.Start()
	b.Drain()
	b.Write(0xA1)
	b.Drain()
	b.Read(false)
	b.Drain()
	b.Stop()
	b.Drain()

	want := []twi.Event{
		twi.EvStart, twi.EvAddrWriteAck, twi.EvDataWriteAck,
		twi.EvRepStart, twi.EvAddrReadAck, twi.EvDataReadNack, twi.EvStop,
	}
	if len(rec.evs) != len(want) {
		t.Fatalf("events = %v, want %v", rec.evs, want)
	}
	for i := range want {
		if rec.evs[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.evs, want)
		}
	}
	if m.Pointer() != 0x08 {
		t.Fatalf("pointer = %#x, want 0x08", m.Pointer())
	}
}

func TestMisuseRaisesBusError(t *testing.T) {
	b, rec := newBus(t)

	b.Write(0xA0) // no start
	b.Start()
	b.Write(0xA0) // nobody home
	b.Read(true)  // no selected target
	b.Disable()
	b.Start()
	b.Drain()

	want := []twi.Event{twi.EvBusError, twi.EvStart, twi.EvAddrWriteNack, twi.EvBusError, twi.EvBusError}
	if len(rec.evs) != len(want) {
		t.Fatalf("events = %v, want %v", rec.evs, want)
	}
	for i := range want {
		if rec.evs[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.evs, want)
		}
	}
}

func TestDetachAndMemoryBusy(t *testing.T) {
	b, rec := newBus(t)
	m := NewMemory()
	b.Attach(0x50, m)
	m.Busy = true

	b.Start()
	b.Write(0xA0)
	b.Stop()
	b.Detach(0x50)
	b.Start()
	b.Write(0xA0)
	b.Stop()
	b.Drain()

	nacks := 0
	for _, ev := range rec.evs {
		if ev == twi.EvAddrWriteNack {
			nacks++
		}
	}
	if nacks != 2 {
		t.Fatalf("address nacks = %d, want 2 (%v)", nacks, rec.evs)
	}
}

func TestMemoryWraps(t *testing.T) {
	m := NewMemory()
	m.Address(false)
	m.Write(0xFF)
	m.Write(0x11)
	m.Write(0x22)
	if got := m.Bytes(0xFF, 2); got[0] != 0x11 || got[1] != 0x22 {
		t.Fatalf("bytes = %x", got)
	}
	if m.Pointer() != 0x01 {
		t.Fatalf("pointer = %#x", m.Pointer())
	}
}
