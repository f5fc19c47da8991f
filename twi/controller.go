package twi

// Controller is the bus peripheral as seen by the driver.
//
// Configure, Enable and Disable are the hardware lifecycle (clock and
// pin setup, peripheral on, peripheral off). They are called from the
// application context only, never while requests are in flight.
//
// The remaining methods issue one bus command each and must not block.
// Every command is answered by exactly one later call of the
// EventHandler passed to Configure:
//
//	Start    -> EvStart / EvRepStart, EvArbLost, EvBusError
//	Write    -> EvAddr{Write,Read}{Ack,Nack}, EvDataWrite{Ack,Nack}, EvArbLost, EvBusError
//	Read     -> EvDataReadAck / EvDataReadNack (matching ack), EvArbLost, EvBusError
//	Stop     -> EvStop
//	Release  -> no event
//
// Start may be invoked from the submitting goroutine when the driver is
// idle; all other commands are issued from inside HandleEvent.
type Controller interface {
	Configure(cfg Config, h EventHandler) error
	Enable()
	Disable()

	// Start issues a start condition, or a repeated start when the bus
	// is already owned.
	Start()
	// Write shifts one byte out; the first byte after a start is the
	// address byte including the direction bit.
	Write(b byte)
	// Read clocks one byte in and answers ACK (true) or NACK (false).
	Read(ack bool)
	// Stop issues a stop condition.
	Stop()
	// Release lets go of the bus without a stop after arbitration loss.
	Release()
}
