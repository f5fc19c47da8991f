package twi

// txn is one request descriptor. It lives in a queue slot and is filled
// in place by the submitting side; from publish until release it is
// touched only by the state machine.
type txn struct {
	addr uint16
	w, r []byte // borrowed from the caller

	// inline storage for the one/two byte helpers; w or r may point here
	inl [2]byte
	// optional destinations for the inline receive helpers
	sink8  *byte
	sink16 *uint16

	reading bool // direction of the current phase
	cursor  int  // bytes transferred in the current phase
	written int  // bytes acknowledged in the send phase

	status *StatusCell
}

func (t *txn) reset() {
	*t = txn{}
}

// addressByte is the SLA+W / SLA+R byte for the current phase.
func (t *txn) addressByte() byte {
	b := byte(t.addr << 1)
	if t.reading {
		b |= 1
	}
	return b
}

// startsReading reports whether the first phase uses the read direction:
// only when there is nothing to send and something to receive.
func (t *txn) startsReading() bool {
	return len(t.w) == 0 && len(t.r) > 0
}

// deliver copies the inline receive buffer to the helper destinations.
func (t *txn) deliver() {
	switch {
	case t.sink8 != nil:
		*t.sink8 = t.inl[0]
	case t.sink16 != nil:
		*t.sink16 = uint16(t.inl[0]) | uint16(t.inl[1])<<8
	}
}
