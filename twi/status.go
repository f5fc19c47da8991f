package twi

import (
	"sync/atomic"

	"asynctwi/errcode"
)

// Status is the state of one request as seen through its StatusCell.
type Status uint32

const (
	// Unused is the zero value: the cell has never been submitted.
	Unused Status = iota
	// Running is written when the request is accepted.
	Running
	Success
	AddressNack     // no device acknowledged the address
	DataNack        // receiver rejected a data byte mid-transfer
	ArbitrationLost // another master won the bus
	BusError        // illegal start/stop or unexpected line state
)

// Terminal reports whether s is a final outcome.
func (s Status) Terminal() bool { return s >= Success && s <= BusError }

func (s Status) String() string {
	switch s {
	case Unused:
		return "unused"
	case Running:
		return "running"
	case Success:
		return "success"
	case AddressNack:
		return "address_nack"
	case DataNack:
		return "data_nack"
	case ArbitrationLost:
		return "arbitration_lost"
	case BusError:
		return "bus_error"
	default:
		return "invalid"
	}
}

// Code maps s to its stable error code. Non-terminal states map to Busy.
func (s Status) Code() errcode.Code {
	switch s {
	case Success:
		return errcode.OK
	case AddressNack:
		return errcode.AddressNack
	case DataNack:
		return errcode.DataNack
	case ArbitrationLost:
		return errcode.ArbitrationLost
	case BusError:
		return errcode.BusError
	default:
		return errcode.Busy
	}
}

// Err returns nil for Success and the matching errcode.Code otherwise.
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return s.Code()
}

// StatusCell is the caller-owned outcome slot of one request.
//
// The driver is the only writer: Running when the request is accepted,
// then exactly one terminal value. Once a terminal value has been
// observed the driver no longer references the cell, so the caller may
// reuse it for a new request. Cells must not be copied while a request
// is in flight.
type StatusCell struct {
	v      atomic.Uint32
	stores atomic.Uint32
}

// Load returns the current status. Always re-load inside wait loops.
func (c *StatusCell) Load() Status { return Status(c.v.Load()) }

// Done reports whether the request has reached a terminal status.
func (c *StatusCell) Done() bool { return c.Load().Terminal() }

// Err is Load().Err().
func (c *StatusCell) Err() error { return c.Load().Err() }

// Stores returns how many times the driver has written this cell.
func (c *StatusCell) Stores() uint32 { return c.stores.Load() }

func (c *StatusCell) store(s Status) {
	c.stores.Add(1)
	c.v.Store(uint32(s))
}
