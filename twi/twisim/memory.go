package twisim

import "sync"

// Memory is a 24Cxx-style register device: the first byte of a write
// transfer sets the address pointer, further bytes are stored from
// there; reads return bytes from the pointer. The pointer auto-increments
// and wraps at 256.
type Memory struct {
	mu    sync.Mutex
	data  [256]byte
	ptr   byte
	first bool
	n     int // data bytes seen in the current write transfer

	// NackAt makes the device NACK the n-th byte (0-based, pointer byte
	// included) of every write transfer. Negative disables.
	NackAt int
	// Busy makes the device NACK its address.
	Busy bool
}

var _ Target = (*Memory)(nil)

// NewMemory returns an always-ACKing memory filled with zeros.
func NewMemory() *Memory { return &Memory{NackAt: -1} }

// Load copies p into memory at off without touching the pointer.
func (m *Memory) Load(off byte, p []byte) {
	m.mu.Lock()
	for i, v := range p {
		m.data[off+byte(i)] = v
	}
	m.mu.Unlock()
}

// Bytes returns a copy of n bytes starting at off.
func (m *Memory) Bytes(off byte, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = m.data[off+byte(i)]
	}
	return out
}

// Pointer returns the current address pointer.
func (m *Memory) Pointer() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ptr
}

func (m *Memory) Address(read bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Busy {
		return false
	}
	if !read {
		m.first = true
		m.n = 0
	}
	return true
}

func (m *Memory) Write(b byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.n
	m.n++
	if m.NackAt >= 0 && idx == m.NackAt {
		return false
	}
	if m.first {
		m.first = false
		m.ptr = b
		return true
	}
	m.data[m.ptr] = b
	m.ptr++
	return true
}

func (m *Memory) Read() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.data[m.ptr]
	m.ptr++
	return b
}

func (m *Memory) Stop() {}
