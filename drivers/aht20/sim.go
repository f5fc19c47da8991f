package aht20

import (
	"sync"

	"asynctwi/x/mathx"
)

// Sim is a simulated AHT20 for use as a twisim target. It understands
// the status, initialise, trigger and soft-reset commands and answers
// reads with a CRC-protected 7-byte frame.
type Sim struct {
	mu sync.Mutex

	// BusyReads is how many frames report busy after each trigger.
	BusyReads int
	// BadCRC corrupts the CRC of every data frame.
	BadCRC bool

	calibrated bool
	busyLeft   int
	humidity   uint32
	temp       uint32

	cmd   []byte
	frame [frameLen]byte
	idx   int

	triggers int
}

// NewSim returns an uncalibrated sensor reading 0 °C and 0 %RH.
func NewSim() *Sim { return &Sim{cmd: make([]byte, 0, 3)} }

// Set loads the next measurement from tenths of °C (-500..1500) and
// tenths of %RH (0..1000).
func (s *Sim) Set(deciC, deciRH int32) {
	t := uint64(mathx.Clamp(deciC+500, 0, 2000))
	h := uint64(mathx.Clamp(deciRH, 0, 1000))
	s.SetRaw(
		uint32(mathx.CeilDiv(h*0x100000, 1000)),
		uint32(mathx.CeilDiv(t*0x100000, 2000)),
	)
}

// SetRaw loads raw 20-bit humidity and temperature codes.
func (s *Sim) SetRaw(humidity, temp uint32) {
	s.mu.Lock()
	s.humidity = mathx.Clamp[uint32](humidity, 0, 0xFFFFF)
	s.temp = mathx.Clamp[uint32](temp, 0, 0xFFFFF)
	s.mu.Unlock()
}

// Calibrated reports whether the initialise command has been seen.
func (s *Sim) Calibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrated
}

// Triggers counts accepted measurement commands.
func (s *Sim) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

func (s *Sim) Address(read bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if read {
		s.buildFrame()
	} else {
		s.cmd = s.cmd[:0]
	}
	return true
}

func (s *Sim) Write(b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cmd) == cap(s.cmd) {
		return false
	}
	s.cmd = append(s.cmd, b)
	return true
}

func (s *Sim) Read() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= frameLen {
		return 0xFF
	}
	b := s.frame[s.idx]
	s.idx++
	return b
}

func (s *Sim) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cmd
	s.cmd = s.cmd[:0]
	switch {
	case len(c) == 3 && c[0] == cmdInitialize && c[1] == 0x08 && c[2] == 0x00:
		s.calibrated = true
	case len(c) == 3 && c[0] == cmdTrigger && c[1] == 0x33 && c[2] == 0x00:
		s.busyLeft = s.BusyReads
		s.triggers++
	case len(c) == 1 && c[0] == cmdSoftReset:
		s.calibrated = false
		s.busyLeft = 0
	}
}

// caller holds lock
func (s *Sim) buildFrame() {
	s.idx = 0
	st := byte(0)
	if s.calibrated {
		st |= statusCalibrated
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		st |= statusBusy
	}
	h, t := s.humidity, s.temp
	s.frame = [frameLen]byte{
		st,
		byte(h >> 12),
		byte(h >> 4),
		byte(h<<4) | byte(t>>16)&0x0F,
		byte(t >> 8),
		byte(t),
	}
	crc := crc8(s.frame[:frameLen-1])
	if s.BadCRC {
		crc = ^crc
	}
	s.frame[frameLen-1] = crc
}
