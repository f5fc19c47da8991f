package twi_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"asynctwi/errcode"
	"asynctwi/twi"
	"asynctwi/twi/twisim"

	"tinygo.org/x/drivers"
)

func runBus(t *testing.T, bus *twisim.Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestI2CTx(t *testing.T) {
	r := newRig(t, twi.Config{})
	r.mem.Load(0x04, []byte{0xDE, 0xAD})
	runBus(t, r.bus)

	var dev drivers.I2C = r.d.I2C(time.Second)
	buf := make([]byte, 2)
	if err := dev.Tx(memAddr, []byte{0x04}, buf); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if !bytes.Equal(buf, []byte{0xDE, 0xAD}) {
		t.Fatalf("buf = %x", buf)
	}
	if err := dev.Tx(memAddr, []byte{0x08, 0x55}, nil); err != nil {
		t.Fatalf("Tx write: %v", err)
	}
	if got := r.mem.Bytes(0x08, 1); got[0] != 0x55 {
		t.Fatalf("mem[8] = %x", got)
	}
}

func TestI2CTxErrors(t *testing.T) {
	r := newRig(t, twi.Config{})
	runBus(t, r.bus)
	dev := r.d.I2C(time.Second)

	cases := []struct {
		name string
		addr uint16
		w    []byte
		want errcode.Code
	}{
		{"absent device", 0x11, []byte{0x00}, errcode.AddressNack},
		{"address out of range", 0x80, nil, errcode.InvalidParams},
		{"send too long", memAddr, make([]byte, twi.MaxTransfer+1), errcode.InvalidParams},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := dev.Tx(c.addr, c.w, nil)
			if got := errcode.Of(err); got != c.want {
				t.Fatalf("code = %q (%v), want %q", got, err, c.want)
			}
		})
	}
}

func TestI2CTxTimeout(t *testing.T) {
	// No dispatcher: the request is admitted but never progresses.
	r := newRig(t, twi.Config{})
	dev := r.d.I2C(20 * time.Millisecond)
	err := dev.Tx(memAddr, []byte{0x00}, nil)
	if got := errcode.Of(err); got != errcode.Timeout {
		t.Fatalf("code = %q (%v), want timeout", got, err)
	}
	if !errcode.Retryable(err) {
		t.Fatal("timeout should be retryable")
	}
	// The request still completes once events flow.
	r.bus.Drain()
	if r.d.Pending() != 0 {
		t.Fatalf("pending = %d", r.d.Pending())
	}
}

func TestI2CTxAdmissionTimeoutUnderContention(t *testing.T) {
	r := newRig(t, twi.Config{QueueSize: 1})
	var first, blocked twi.StatusCell
	r.d.Send(memAddr, []byte{0x00}, &first)
	go r.d.Send(memAddr, []byte{0x01}, &blocked)
	time.Sleep(10 * time.Millisecond)

	res := make(chan error, 1)
	go func() { res <- r.d.I2C(30*time.Millisecond).Tx(memAddr, []byte{0x02}, nil) }()
	select {
	case err := <-res:
		if errcode.Of(err) != errcode.Busy {
			t.Fatalf("Tx err = %v, want busy", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Tx ignored its timeout while another sender was waiting")
	}

	runBus(t, r.bus)
	deadline := time.Now().Add(time.Second)
	for !blocked.Done() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if blocked.Load() != twi.Success {
		t.Fatalf("blocked send = %v", blocked.Load())
	}
}
