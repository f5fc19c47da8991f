package timex

import (
	"time"

	"asynctwi/x/mathx"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// PeriodFromHz returns the clock period for a requested frequency,
// rounded up to the next nanosecond.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) time.Duration {
	if freqHz == 0 {
		freqHz = 1
	}
	return time.Duration(mathx.CeilDiv[uint64](uint64(time.Second), uint64(freqHz)))
}

// ByteTime is the bus time of one I²C byte: eight data bits plus the
// acknowledge bit.
func ByteTime(freqHz uint32) time.Duration {
	return 9 * PeriodFromHz(freqHz)
}
