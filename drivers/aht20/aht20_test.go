package aht20

import (
	"context"
	"errors"
	"testing"
	"time"

	"asynctwi/errcode"
	"asynctwi/twi"
	"asynctwi/twi/twisim"
)

var _ twisim.Target = (*Sim)(nil)

type rig struct {
	bus *twisim.Bus
	sim *Sim
	dev *Device
}

func newRig(t *testing.T, attach bool) *rig {
	t.Helper()
	r := &rig{bus: twisim.New(), sim: NewSim()}
	if attach {
		r.bus.Attach(Address, r.sim)
	}
	d, err := twi.New(r.bus, twi.Config{Frequency: 400_000})
	if err != nil {
		t.Fatal(err)
	}
	d.Open()
	r.dev = New(d, Config{TriggerHint: time.Nanosecond, PollInterval: time.Millisecond})
	return r
}

func (r *rig) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestConfigureInitialises(t *testing.T) {
	r := newRig(t, true)
	r.run(t)
	ctx := context.Background()

	if err := r.dev.Configure(ctx); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !r.sim.Calibrated() {
		t.Fatal("sensor not initialised")
	}
	st, err := r.dev.Status(ctx)
	if err != nil || st&statusCalibrated == 0 {
		t.Fatalf("Status = %#x, %v", st, err)
	}
	if err := r.dev.Configure(ctx); err != nil {
		t.Fatalf("second Configure: %v", err)
	}
}

func TestReadSample(t *testing.T) {
	r := newRig(t, true)
	r.run(t)
	r.sim.BusyReads = 2
	r.sim.Set(235, 456)
	ctx := context.Background()

	if err := r.dev.Configure(ctx); err != nil {
		t.Fatal(err)
	}
	var s Sample
	if err := r.dev.Read(ctx, &s); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := s.DeciCelsius(); got != 235 {
		t.Fatalf("DeciCelsius = %d, want 235", got)
	}
	if got := s.DeciRelHumidity(); got != 456 {
		t.Fatalf("DeciRelHumidity = %d, want 456", got)
	}
	if r.dev.DeciCelsius() != 235 || r.dev.DeciRelHumidity() != 456 {
		t.Fatal("device cache not updated")
	}
	if r.sim.Triggers() != 1 {
		t.Fatalf("triggers = %d", r.sim.Triggers())
	}
}

func TestSplitPhaseStepwise(t *testing.T) {
	r := newRig(t, true)
	r.sim.calibrated = true
	r.sim.BusyReads = 1
	r.sim.Set(-105, 1000)

	if err := r.dev.Collect(nil); err != ErrIdle {
		t.Fatalf("Collect before Trigger = %v", err)
	}
	if err := r.dev.Trigger(); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.Trigger(); err != ErrBusy {
		t.Fatalf("second Trigger = %v, want ErrBusy", err)
	}

	var s Sample
	steps := 0
	for {
		err := r.dev.Collect(&s)
		if err == nil {
			break
		}
		if err != ErrNotReady {
			t.Fatalf("Collect: %v", err)
		}
		r.bus.Drain()
		steps++
		if steps > 10 {
			t.Fatal("measurement never completed")
		}
	}
	// trigger, busy frame, ready frame
	if steps != 3 {
		t.Fatalf("steps = %d, want 3", steps)
	}
	if s.DeciCelsius() != -105 || s.DeciRelHumidity() != 999 {
		t.Fatalf("sample = %d / %d", s.DeciCelsius(), s.DeciRelHumidity())
	}
	if r.dev.Pending() {
		t.Fatal("still pending after a sample")
	}
}

func TestAbsentSensor(t *testing.T) {
	r := newRig(t, false)
	r.dev.Trigger()
	r.bus.Drain()
	err := r.dev.Collect(nil)
	if !errors.Is(err, errcode.AddressNack) {
		t.Fatalf("Collect = %v, want address_nack", err)
	}
	if r.dev.Pending() {
		t.Fatal("failed measurement left pending")
	}
}

func TestProtocolErrors(t *testing.T) {
	t.Run("bad crc", func(t *testing.T) {
		r := newRig(t, true)
		r.run(t)
		r.sim.calibrated = true
		r.sim.BadCRC = true
		if err := r.dev.Read(context.Background(), nil); err != ErrProtocol {
			t.Fatalf("Read = %v, want ErrProtocol", err)
		}
	})
	t.Run("uncalibrated", func(t *testing.T) {
		r := newRig(t, true)
		r.run(t)
		if err := r.dev.Read(context.Background(), nil); err != ErrProtocol {
			t.Fatalf("Read = %v, want ErrProtocol", err)
		}
	})
}

func TestReadTimeoutThenRecover(t *testing.T) {
	// No dispatcher yet: nothing completes.
	r := newRig(t, true)
	r.sim.calibrated = true
	r.dev.cfg.CollectTimeout = 20 * time.Millisecond
	if err := r.dev.Read(context.Background(), nil); err != ErrTimeout {
		t.Fatalf("Read = %v, want ErrTimeout", err)
	}
	if err := r.dev.Trigger(); err != ErrBusy {
		t.Fatalf("Trigger after timeout = %v, want ErrBusy", err)
	}

	// Once the abandoned request ends the device is usable again.
	r.bus.Drain()
	if r.dev.st.Load() != twi.Success {
		t.Fatalf("abandoned trigger = %v", r.dev.st.Load())
	}
	r.run(t)
	r.dev.cfg.CollectTimeout = 250 * time.Millisecond
	r.sim.Set(150, 300)
	var s Sample
	if err := r.dev.Read(context.Background(), &s); err != nil {
		t.Fatalf("Read after recovery = %v", err)
	}
	if s.DeciCelsius() != 150 || s.DeciRelHumidity() != 300 {
		t.Fatalf("sample = %d / %d", s.DeciCelsius(), s.DeciRelHumidity())
	}
	if err := r.dev.Read(context.Background(), nil); err != nil {
		t.Fatalf("second Read = %v", err)
	}
}

func TestBlockingCallLeavesQueuedTriggerIntact(t *testing.T) {
	r := newRig(t, true)
	r.sim.calibrated = true
	if err := r.dev.Trigger(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.dev.Status(context.Background()); err != ErrBusy {
		t.Fatalf("Status with trigger queued = %v, want ErrBusy", err)
	}
	if err := r.dev.Reset(context.Background()); err != ErrBusy {
		t.Fatalf("Reset with trigger queued = %v, want ErrBusy", err)
	}
	r.bus.Drain()

	wrote := []string{}
	for _, op := range r.bus.Trace() {
		if op.Kind == twisim.OpWrite {
			wrote = append(wrote, op.String())
		}
	}
	want := []string{"W 0xac ack", "W 0x33 ack", "W 0x00 ack"}
	if len(wrote) != len(want) {
		t.Fatalf("writes = %q, want %q", wrote, want)
	}
	for i := range want {
		if wrote[i] != want[i] {
			t.Fatalf("writes = %q, want %q", wrote, want)
		}
	}
	if r.sim.Triggers() != 1 {
		t.Fatalf("triggers = %d, want 1", r.sim.Triggers())
	}
}

func TestCRC8(t *testing.T) {
	if got := crc8([]byte("123456789")); got != 0xF7 {
		t.Fatalf("crc8 = %#x, want 0xf7", got)
	}
}

func TestSampleConversions(t *testing.T) {
	s := Sample{RawHumidity: 0x80000, RawTemp: 0x80000}
	if s.DeciRelHumidity() != 500 {
		t.Fatalf("DeciRelHumidity = %d", s.DeciRelHumidity())
	}
	if s.DeciCelsius() != 500 {
		t.Fatalf("DeciCelsius = %d", s.DeciCelsius())
	}
}
