package periphbus_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"asynctwi/errcode"
	"asynctwi/twi"
	"asynctwi/twi/periphbus"
	"asynctwi/twi/twisim"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

func setup(t *testing.T) (*periphbus.Bus, *twisim.Memory) {
	t.Helper()
	sim := twisim.New()
	mem := twisim.NewMemory()
	sim.Attach(0x50, mem)
	d, err := twi.New(sim, twi.Config{Frequency: 400_000})
	if err != nil {
		t.Fatal(err)
	}
	d.Open()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return periphbus.New("twi0", d, time.Second), mem
}

func TestDevOverBus(t *testing.T) {
	b, mem := setup(t)
	mem.Load(0x20, []byte{0x12, 0x34})

	dev := &i2c.Dev{Bus: b, Addr: 0x50}
	r := make([]byte, 2)
	if err := dev.Tx([]byte{0x20}, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if !bytes.Equal(r, []byte{0x12, 0x34}) {
		t.Fatalf("r = %x", r)
	}

	n, err := dev.Write([]byte{0x30, 0x99})
	if err != nil || n != 2 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := mem.Bytes(0x30, 1); got[0] != 0x99 {
		t.Fatalf("mem[0x30] = %x", got)
	}

	miss := &i2c.Dev{Bus: b, Addr: 0x51}
	if err := miss.Tx([]byte{0x00}, nil); errcode.Of(err) != errcode.AddressNack {
		t.Fatalf("absent device err = %v", err)
	}
}

func TestSetSpeed(t *testing.T) {
	b, _ := setup(t)
	if b.String() != "twi0" {
		t.Fatalf("String = %q", b.String())
	}
	if err := b.SetSpeed(400 * physic.KiloHertz); err != nil {
		t.Fatalf("configured speed rejected: %v", err)
	}
	if err := b.SetSpeed(100 * physic.KiloHertz); errcode.Of(err) != errcode.Unsupported {
		t.Fatalf("other speed err = %v", err)
	}
}
