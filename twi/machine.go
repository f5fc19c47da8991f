package twi

import "sync/atomic"

// phase is the protocol position of the in-flight request.
type phase uint8

const (
	phaseIdle phase = iota
	phaseStartSent
	phaseAddressSent
	phaseDataTx
	phaseDataRx
	phaseRepeatedStart
	phaseStopSent
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStartSent:
		return "start_sent"
	case phaseAddressSent:
		return "address_sent"
	case phaseDataTx:
		return "data_tx"
	case phaseDataRx:
		return "data_rx"
	case phaseRepeatedStart:
		return "repeated_start"
	case phaseStopSent:
		return "stop_sent"
	default:
		return "invalid"
	}
}

// machine walks one request at a time through the bus protocol. All of
// its state except idle is owned by the event context; the submitting
// side only ever touches it after winning idle.
type machine struct {
	ctrl   Controller
	q      *queue
	onDone func(Completion)

	idle atomic.Bool

	ph      phase
	cur     *txn   // head slot while in flight, nil once finished
	pending Status // outcome to store when the stop completes
}

func (m *machine) init(ctrl Controller, q *queue, onDone func(Completion)) {
	m.ctrl = ctrl
	m.q = q
	m.onDone = onDone
	m.ph = phaseIdle
	m.idle.Store(true)
}

// kick starts the head request if the machine is idle. It is safe to
// call from both sides: exactly one caller wins idle.
func (m *machine) kick() {
	for m.q.Len() > 0 && m.idle.CompareAndSwap(true, false) {
		if t := m.q.head(); t != nil {
			m.begin(t)
			return
		}
		// Lost a race with nothing: give idle back and look again.
		m.idle.Store(true)
	}
}

func (m *machine) begin(t *txn) {
	m.cur = t
	m.pending = 0
	t.cursor = 0
	t.reading = t.startsReading()
	m.ph = phaseStartSent
	m.ctrl.Start()
}

// handle advances the protocol on one bus event.
func (m *machine) handle(ev Event, data byte) {
	switch ev {
	case EvArbLost:
		if m.ph == phaseIdle {
			return
		}
		if m.cur != nil {
			m.finish(ArbitrationLost)
		}
		m.ctrl.Release()
		m.next()
		return
	case EvBusError:
		if m.ph == phaseStopSent && m.cur == nil {
			// Error while releasing a failed request: its outcome is
			// already stored. Force a stop again and carry on.
			m.ctrl.Stop()
			return
		}
		m.fail(BusError)
		return
	}

	switch m.ph {
	case phaseStartSent, phaseRepeatedStart:
		if ev != EvStart && ev != EvRepStart {
			m.fail(BusError)
			return
		}
		m.ph = phaseAddressSent
		m.ctrl.Write(m.cur.addressByte())

	case phaseAddressSent:
		t := m.cur
		switch {
		case ev == EvAddrWriteAck && !t.reading:
			m.ph = phaseDataTx
			m.transmit()
		case ev == EvAddrReadAck && t.reading:
			m.ph = phaseDataRx
			m.ctrl.Read(len(t.r) > 1)
		case ev == EvAddrWriteNack || ev == EvAddrReadNack:
			m.fail(AddressNack)
		default:
			m.fail(BusError)
		}

	case phaseDataTx:
		t := m.cur
		switch ev {
		case EvDataWriteAck:
			t.written = t.cursor
			m.transmit()
		case EvDataWriteNack:
			if t.cursor < len(t.w) {
				m.fail(DataNack)
				return
			}
			// A NACK on the final byte only says the receiver wants no
			// more; the send phase is complete.
			t.written = t.cursor
			m.transmit()
		default:
			m.fail(BusError)
		}

	case phaseDataRx:
		t := m.cur
		if ev != EvDataReadAck && ev != EvDataReadNack {
			m.fail(BusError)
			return
		}
		t.r[t.cursor] = data
		t.cursor++
		if t.cursor >= len(t.r) {
			m.stop(Success)
			return
		}
		m.ctrl.Read(t.cursor < len(t.r)-1)

	case phaseStopSent:
		if ev != EvStop {
			return
		}
		if m.cur != nil {
			m.finish(m.pending)
		}
		m.next()

	default:
		// Idle: stray event, nothing owns the bus.
	}
}

// transmit sends the next data byte, or ends the send phase.
func (m *machine) transmit() {
	t := m.cur
	if t.cursor < len(t.w) {
		b := t.w[t.cursor]
		t.cursor++
		m.ctrl.Write(b)
		return
	}
	if !t.reading && len(t.r) > 0 {
		t.reading = true
		t.cursor = 0
		m.ph = phaseRepeatedStart
		m.ctrl.Start()
		return
	}
	m.stop(Success)
}

// stop issues the stop condition; outcome is stored when it completes.
func (m *machine) stop(outcome Status) {
	m.pending = outcome
	m.ph = phaseStopSent
	m.ctrl.Stop()
}

// fail reports st at once and then releases the bus with a stop.
func (m *machine) fail(st Status) {
	if m.cur == nil {
		return
	}
	m.finish(st)
	m.ph = phaseStopSent
	m.ctrl.Stop()
}

// finish stores the terminal status and frees the slot. The request's
// buffers and cell are not touched after this.
func (m *machine) finish(st Status) {
	t := m.cur
	m.cur = nil
	if st == Success {
		t.deliver()
	}
	c := Completion{Addr: t.addr, Status: st, Written: t.written}
	if t.reading {
		c.Read = t.cursor
	}
	t.status.store(st)
	m.q.release()
	if m.onDone != nil {
		m.onDone(c)
	}
}

// next returns to idle and starts the following request, if any.
func (m *machine) next() {
	m.ph = phaseIdle
	m.pending = 0
	m.idle.Store(true)
	m.kick()
}
