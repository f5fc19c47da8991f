// Package aht20 drives the AHT20 temperature/humidity sensor through the
// asynchronous TWI queue.
//
// Measurement is split-phase and never blocks:
//
//	d.Trigger()          // queue the measurement command
//	err := d.Collect(&s) // ErrNotReady until a valid sample is in
//
// Read and Configure wrap the same steps with bounded polling for
// callers that can block.
//
// The driver avoids floating-point on the hot path; fixed-point helpers
// return tenths of units (deci-°C and deci-%RH).
package aht20

import (
	"context"
	"errors"
	"time"

	"asynctwi/twi"
)

// I2C address.
const Address = 0x38

// Commands and status bits (per datasheet/common driver practice).
const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08

	frameLen = 7 // status, 5 data bytes, CRC
)

// Errors returned by the driver.
var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrNotReady = errors.New("aht20: not ready")
	ErrBusy     = errors.New("aht20: request in flight")
	ErrProtocol = errors.New("aht20: protocol error")
	ErrIdle     = errors.New("aht20: no measurement pending")
)

// Bus is the part of *twi.Driver the sensor needs.
type Bus interface {
	Send(addr uint16, buf []byte, st *twi.StatusCell)
	Receive(addr uint16, buf []byte, st *twi.StatusCell)
	SendAndReceive(addr uint16, w, r []byte, st *twi.StatusCell)
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x38 if zero.
	Address uint16 `json:"address,omitempty"`
	// PollInterval is used by Read between Collect attempts. Default 5 ms.
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	// CollectTimeout bounds the total wait in Read. Default 250 ms.
	CollectTimeout time.Duration `json:"collect_timeout,omitempty"`
	// TriggerHint is the nominal conversion time. Collect does not poll the
	// sensor before it has elapsed since Trigger. Default 80 ms.
	TriggerHint time.Duration `json:"trigger_hint,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Address == 0 {
		c.Address = Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 250 * time.Millisecond
	}
	if c.TriggerHint <= 0 {
		c.TriggerHint = 80 * time.Millisecond
	}
	return c
}

type op uint8

const (
	opIdle op = iota
	opTrigger
	opFetch
)

// Device is one AHT20. It owns its command and receive buffers, so they
// stay valid for as long as the queue holds a request. Device is not safe
// for concurrent use.
type Device struct {
	bus Bus
	cfg Config

	st        twi.StatusCell
	op        op
	abandoned bool      // Read gave up on op; drop it once st is terminal
	since     time.Time // when the trigger was queued
	cmd   [3]byte
	buf   [frameLen]byte

	humidity uint32 // last raw humidity sample
	temp     uint32 // last raw temperature sample
}

// New creates a device handle. It does not touch the bus.
func New(bus Bus, cfg Config) *Device {
	return &Device{bus: bus, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// busy reports whether a request still owns the buffers.
func (d *Device) busy() bool {
	if d.abandoned && d.st.Load() != twi.Running {
		d.op = opIdle
		d.abandoned = false
	}
	return d.op != opIdle || d.st.Load() == twi.Running
}

// Trigger queues a measurement. It returns at once.
func (d *Device) Trigger() error {
	if d.busy() {
		return ErrBusy
	}
	d.cmd = [3]byte{cmdTrigger, 0x33, 0x00}
	d.bus.Send(d.cfg.Address, d.cmd[:], &d.st)
	d.op = opTrigger
	d.abandoned = false
	d.since = time.Now()
	return nil
}

// Pending reports whether a measurement is between Trigger and a final
// Collect result.
func (d *Device) Pending() bool { return d.op != opIdle }

// Collect advances a triggered measurement. It returns ErrNotReady until
// a complete sample is available, then fills out (if non-nil) and the
// device cache. Bus failures end the measurement and are returned as the
// request's errcode.
func (d *Device) Collect(out *Sample) error {
	switch d.op {
	case opIdle:
		return ErrIdle
	case opTrigger:
		if !d.st.Done() {
			return ErrNotReady
		}
		if err := d.st.Err(); err != nil {
			d.op = opIdle
			return err
		}
		if time.Since(d.since) < d.cfg.TriggerHint {
			return ErrNotReady
		}
		d.fetch()
		return ErrNotReady
	}

	// opFetch
	if !d.st.Done() {
		return ErrNotReady
	}
	if err := d.st.Err(); err != nil {
		d.op = opIdle
		return err
	}
	data := d.buf[:]
	if data[0]&statusBusy != 0 {
		d.fetch()
		return ErrNotReady
	}
	d.op = opIdle
	if data[0]&statusCalibrated == 0 {
		return ErrProtocol
	}
	if crc8(data[:frameLen-1]) != data[frameLen-1] {
		return ErrProtocol
	}
	// Parse raw values.
	hraw := (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	traw := (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])

	d.humidity = hraw
	d.temp = traw
	if out != nil {
		out.RawHumidity = hraw
		out.RawTemp = traw
	}
	return nil
}

func (d *Device) fetch() {
	d.buf = [frameLen]byte{}
	d.bus.Receive(d.cfg.Address, d.buf[:], &d.st)
	d.op = opFetch
}

// Read performs a full measurement: Trigger, then Collect every
// PollInterval until a sample arrives, CollectTimeout passes or ctx ends.
func (d *Device) Read(ctx context.Context, out *Sample) error {
	if err := d.Trigger(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CollectTimeout)
	defer cancel()

	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()
	for {
		err := d.Collect(out)
		if err != ErrNotReady {
			return err
		}
		select {
		case <-ctx.Done():
			d.abandoned = true
			return ErrTimeout
		case <-t.C:
		}
	}
}

// Configure initialises the sensor unless its calibrated bit is already
// set.
func (d *Device) Configure(ctx context.Context) error {
	st, err := d.Status(ctx)
	if err != nil {
		return err
	}
	if st&statusCalibrated != 0 {
		return nil
	}
	if err := d.blocking(ctx, func() {
		d.cmd = [3]byte{cmdInitialize, 0x08, 0x00}
		d.bus.Send(d.cfg.Address, d.cmd[:], &d.st)
	}); err != nil {
		return err
	}
	// Small guard delay; callers should not expect an immediate ready sample.
	select {
	case <-ctx.Done():
		return ErrTimeout
	case <-time.After(10 * time.Millisecond):
	}
	return nil
}

// Reset issues a soft reset. Give the device ~20ms afterwards before using.
func (d *Device) Reset(ctx context.Context) error {
	return d.blocking(ctx, func() {
		d.cmd[0] = cmdSoftReset
		d.bus.Send(d.cfg.Address, d.cmd[:1], &d.st)
	})
}

// Status reads the status byte.
func (d *Device) Status(ctx context.Context) (byte, error) {
	if err := d.blocking(ctx, func() {
		d.cmd[0] = cmdStatus
		d.bus.SendAndReceive(d.cfg.Address, d.cmd[:1], d.buf[:1], &d.st)
	}); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

// blocking submits one request and waits for it. submit runs only once
// the buffers are free. On ErrTimeout the request is still queued; the
// device reports ErrBusy until it ends.
func (d *Device) blocking(ctx context.Context, submit func()) error {
	if d.busy() {
		return ErrBusy
	}
	submit()
	s, err := twi.Wait(ctx, &d.st, d.cfg.PollInterval/4)
	if err != nil {
		return ErrTimeout
	}
	return s.Err()
}

// crc8 is the sensor's CRC: polynomial 0x31, initial value 0xFF.
func crc8(p []byte) byte {
	crc := byte(0xFF)
	for _, b := range p {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Sample holds raw readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// Fixed-point conversion helpers operating on Sample.

func (s Sample) DeciRelHumidity() int32 {
	return (int32(s.RawHumidity) * 1000) / 0x100000
}

func (s Sample) DeciCelsius() int32 {
	return ((int32(s.RawTemp) * 2000) / 0x100000) - 500
}

// Accessors for the last cached sample.

func (d *Device) RawHumidity() uint32 { return d.humidity }
func (d *Device) RawTemp() uint32     { return d.temp }

// RelHumidity returns relative humidity in percent (float). Prefer DeciRelHumidity for fixed-point.
func (d *Device) RelHumidity() float32 {
	return (float32(d.humidity) * 100) / 0x100000
}

// DeciRelHumidity returns tenths of %RH.
func (d *Device) DeciRelHumidity() int32 {
	return Sample{RawHumidity: d.humidity}.DeciRelHumidity()
}

// Celsius returns °C (float). Prefer DeciCelsius for fixed-point.
func (d *Device) Celsius() float32 {
	return (float32(d.temp)*200.0)/0x100000 - 50
}

// DeciCelsius returns tenths of °C.
func (d *Device) DeciCelsius() int32 {
	return Sample{RawTemp: d.temp}.DeciCelsius()
}
