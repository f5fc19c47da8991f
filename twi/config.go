package twi

import "asynctwi/x/mathx"

// Bus frequency limits and defaults.
const (
	DefaultFrequency = 100_000
	MinFrequency     = 10_000
	MaxFrequency     = 1_000_000 // Fast-mode Plus

	DefaultQueueSize = 8
	MaxQueueSize     = 256

	// MaxTransfer is the longest send or receive phase of one request.
	MaxTransfer = 255
)

// Config controls the driver. All fields are optional.
type Config struct {
	// Frequency is the SCL frequency in Hz. Default 100 kHz; clamped to
	// [MinFrequency, MaxFrequency]. It only affects controller timing.
	Frequency uint32 `json:"hz,omitempty"`
	// QueueSize is the number of request slots, rounded up to a power of
	// two. Default 8, at most MaxQueueSize. Fixed for the driver's life.
	QueueSize int `json:"queue_size,omitempty"`
	// OnComplete, if set, is called on the event context right after a
	// request's terminal status is stored. It must not block.
	OnComplete func(Completion) `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	c.Frequency = mathx.Clamp[uint32](c.Frequency, MinFrequency, MaxFrequency)
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	c.QueueSize = int(mathx.NextPow2(uint32(mathx.Clamp(c.QueueSize, 1, MaxQueueSize))))
	return c
}

// Completion describes one finished request. It is a value copy: the
// descriptor it came from has already been recycled.
type Completion struct {
	Addr    uint16
	Status  Status
	Written int // data bytes acknowledged in the send phase
	Read    int // data bytes stored in the receive phase
}
