package twi

// Event is a bus event raised by a Controller on the interrupt path.
// The values follow the AVR TWI status register (TWSR) codes so that a
// TWI interrupt handler can forward TWSR&0xF8 unchanged.
type Event uint8

const (
	EvBusError      Event = 0x00
	EvStart         Event = 0x08
	EvRepStart      Event = 0x10
	EvAddrWriteAck  Event = 0x18
	EvAddrWriteNack Event = 0x20
	EvDataWriteAck  Event = 0x28
	EvDataWriteNack Event = 0x30
	EvArbLost       Event = 0x38
	EvAddrReadAck   Event = 0x40
	EvAddrReadNack  Event = 0x48
	EvDataReadAck   Event = 0x50 // data byte received, master returned ACK
	EvDataReadNack  Event = 0x58 // data byte received, master returned NACK
	// EvStop reports that a stop condition has completed. TWI hardware
	// has no such interrupt; controllers synthesise it once TWSTO clears.
	EvStop Event = 0xF0
)

func (e Event) String() string {
	switch e {
	case EvBusError:
		return "bus_error"
	case EvStart:
		return "start"
	case EvRepStart:
		return "rep_start"
	case EvAddrWriteAck:
		return "sla_w_ack"
	case EvAddrWriteNack:
		return "sla_w_nack"
	case EvDataWriteAck:
		return "data_w_ack"
	case EvDataWriteNack:
		return "data_w_nack"
	case EvArbLost:
		return "arb_lost"
	case EvAddrReadAck:
		return "sla_r_ack"
	case EvAddrReadNack:
		return "sla_r_nack"
	case EvDataReadAck:
		return "data_r_ack"
	case EvDataReadNack:
		return "data_r_nack"
	case EvStop:
		return "stop"
	default:
		return "unknown"
	}
}

// EventHandler consumes bus events. It is called from a single
// execution context (the bus interrupt, or one dispatcher goroutine).
// data carries the received byte for EvDataReadAck/EvDataReadNack.
type EventHandler interface {
	HandleEvent(ev Event, data byte)
}
