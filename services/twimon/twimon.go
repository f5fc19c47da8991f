// Package twimon publishes TWI request completions on the bus.
//
// The driver's completion hook runs on the interrupt path, so Hook only
// copies the completion into a buffered channel and never blocks. A
// worker goroutine drains the channel, keeps per-status counters and
// publishes each completion plus a retained stats document.
package twimon

import (
	"context"
	"sync/atomic"
	"time"

	"asynctwi/bus"
	"asynctwi/errcode"
	"asynctwi/twi"
	"asynctwi/x/conv"
)

// Config selects the topics and buffering of a Monitor. All fields are
// optional.
type Config struct {
	// ID names the bus in topics: twi/<ID>/txn and twi/<ID>/stats.
	ID string `json:"id"`
	// QueueLen is the hook buffer depth. Default 32.
	QueueLen int `json:"queue_len,omitempty"`
	// StatsEvery republishes stats on a timer as well as on change.
	// Zero disables the timer.
	StatsEvery time.Duration `json:"stats_every,omitempty"`
	// Quiet suppresses the Warn log line for failed requests.
	Quiet bool `json:"quiet,omitempty"`
}

// Txn is the payload published on twi/<id>/txn.
type Txn struct {
	Addr    uint16 `json:"addr"`
	Status  string `json:"status"`
	Written int    `json:"written"`
	Read    int    `json:"read"`
}

// Stats is the retained payload on twi/<id>/stats.
type Stats struct {
	Total           uint32 `json:"total"`
	Success         uint32 `json:"success"`
	AddressNack     uint32 `json:"address_nack"`
	DataNack        uint32 `json:"data_nack"`
	ArbitrationLost uint32 `json:"arbitration_lost"`
	BusError        uint32 `json:"bus_error"`
	Drops           uint32 `json:"drops"`
}

// Monitor turns driver completions into bus messages. Create it with New,
// pass Hook as twi.Config.OnComplete and call Start once.
type Monitor struct {
	cfg     Config
	in      chan twi.Completion
	started atomic.Bool

	drops   uint32 // hook drop counter
	stats   Stats  // worker only
	stopped chan struct{}

	txnTopic   bus.Topic
	statsTopic bus.Topic
}

// New returns a stopped monitor with defaults applied (ID "0", QueueLen 32).
func New(cfg Config) *Monitor {
	if cfg.ID == "" {
		cfg.ID = "0"
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 32
	}
	return &Monitor{
		cfg:        cfg,
		in:         make(chan twi.Completion, cfg.QueueLen),
		stopped:    make(chan struct{}),
		txnTopic:   bus.T("twi", cfg.ID, "txn"),
		statsTopic: bus.T("twi", cfg.ID, "stats"),
	}
}

// Hook is suitable as twi.Config.OnComplete.
func (m *Monitor) Hook(c twi.Completion) {
	select {
	case m.in <- c:
	default:
		atomic.AddUint32(&m.drops, 1) // protect ISR path
	}
}

// Drops is the number of completions lost because the worker lagged.
func (m *Monitor) Drops() uint32 { return atomic.LoadUint32(&m.drops) }

// Topics returns the txn and stats topics.
func (m *Monitor) Topics() (txn, stats bus.Topic) { return m.txnTopic, m.statsTopic }

// Start runs the worker until ctx is cancelled. A monitor can be started
// only once.
func (m *Monitor) Start(ctx context.Context, conn *bus.Connection) error {
	if conn == nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "twimon.start", Msg: "nil connection"}
	}
	if !m.started.CompareAndSwap(false, true) {
		return &errcode.E{C: errcode.Busy, Op: "twimon.start", Msg: "already started"}
	}
	go m.loop(ctx, conn)
	return nil
}

// Stopped is closed when the worker has exited.
func (m *Monitor) Stopped() <-chan struct{} { return m.stopped }

func (m *Monitor) loop(ctx context.Context, conn *bus.Connection) {
	defer close(m.stopped)
	println("Info: twimon", m.cfg.ID, "starting")

	var tick <-chan time.Time
	if m.cfg.StatsEvery > 0 {
		t := time.NewTicker(m.cfg.StatsEvery)
		defer t.Stop()
		tick = t.C
	}

	m.publishStats(conn)
	for {
		select {
		case <-ctx.Done():
			println("Info: twimon", m.cfg.ID, "stopping")
			return
		case <-tick:
			m.publishStats(conn)
		case c := <-m.in:
			m.record(c)
			conn.Publish(conn.NewMessage(m.txnTopic, Txn{
				Addr:    c.Addr,
				Status:  c.Status.String(),
				Written: c.Written,
				Read:    c.Read,
			}, false))
			m.publishStats(conn)
		}
	}
}

func (m *Monitor) record(c twi.Completion) {
	m.stats.Total++
	switch c.Status {
	case twi.Success:
		m.stats.Success++
		return
	case twi.AddressNack:
		m.stats.AddressNack++
	case twi.DataNack:
		m.stats.DataNack++
	case twi.ArbitrationLost:
		m.stats.ArbitrationLost++
	case twi.BusError:
		m.stats.BusError++
	}
	if !m.cfg.Quiet {
		println("Warn: twimon", m.cfg.ID, conv.Hex8(byte(c.Addr)), c.Status.String())
	}
}

func (m *Monitor) publishStats(conn *bus.Connection) {
	s := m.stats
	s.Drops = m.Drops()
	conn.Publish(conn.NewMessage(m.statsTopic, s, true))
}
