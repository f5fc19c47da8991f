// cmd/twi-sim/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"asynctwi/bus"
	"asynctwi/drivers/aht20"
	"asynctwi/services/config"
	"asynctwi/services/twimon"
	"asynctwi/twi"
	"asynctwi/twi/periphbus"
	"asynctwi/twi/twisim"
	"asynctwi/x/conv"

	"periph.io/x/conn/v3/i2c"
)

const (
	device     = "sim"
	eepromAddr = 0x50
	cycles     = 5
	period     = 500 * time.Millisecond
	txTimeout  = 100 * time.Millisecond
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := bus.NewBus(16)
	conn := b.NewConnection("twi-sim")

	// ---------- Configuration ----------
	ctx = context.WithValue(ctx, config.CtxDeviceKey, device)
	if err := config.NewConfigService().Start(ctx, conn); err != nil {
		os.Exit(1)
	}
	var (
		twiCfg twi.Config
		monCfg twimon.Config
		aCfg   aht20.Config
	)
	mustDecode(b, "twi", &twiCfg)
	mustDecode(b, "twimon", &monCfg)
	mustDecode(b, "aht20", &aCfg)

	// ---------- Bus and devices ----------
	mon := twimon.New(monCfg)
	twiCfg.OnComplete = mon.Hook

	sim := twisim.New()
	sim.Realtime = true
	eeprom := twisim.NewMemory()
	sensor := aht20.NewSim()
	sensor.BusyReads = 1
	sim.Attach(eepromAddr, eeprom)
	sim.Attach(aht20.Address, sensor)

	d, err := twi.New(sim, twiCfg)
	if err != nil {
		println("Warn: twi setup:", err.Error())
		os.Exit(1)
	}
	d.Open()
	defer d.Close()
	go sim.Run(ctx)
	println("Info: twi up at", d.Config().Frequency, "Hz, queue", d.Config().QueueSize)

	if err := mon.Start(ctx, conn); err != nil {
		println("Warn: twimon:", err.Error())
	}
	_, statsTopic := mon.Topics()

	// ---------- Sensor ----------
	th := aht20.New(d, aCfg)
	if err := th.Configure(ctx); err != nil {
		println("Warn: aht20 configure:", err.Error())
	}

	// ---------- EEPROM over periph.io ----------
	pb := periphbus.New("twi-sim", d, txTimeout)
	mem := &i2c.Dev{Bus: pb, Addr: eepromAddr}

	for i := 0; i < cycles; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sensor.Set(int32(200+i*5), int32(400+i*10))
		var s aht20.Sample
		if err := th.Read(ctx, &s); err != nil {
			println("Warn: aht20 read:", err.Error())
		} else {
			println("Info: aht20", s.DeciCelsius(), "dC", s.DeciRelHumidity(), "d%RH")
		}

		w := []byte{byte(i * 4), byte(s.DeciCelsius()), byte(s.DeciRelHumidity())}
		if _, err := mem.Write(w); err != nil {
			println("Warn: eeprom write:", err.Error())
		}
		r := make([]byte, 2)
		if err := mem.Tx(w[:1], r); err != nil {
			println("Warn: eeprom read:", err.Error())
		} else {
			println("Info: eeprom", conv.Hex8(w[0]), "=", conv.HexBytes(r))
		}

		// Address-only write on an empty slot.
		var scan twi.StatusCell
		d.Send(0x21, nil, &scan)
		if ps, _ := twi.Wait(ctx, &scan, time.Millisecond); ps != twi.AddressNack {
			println("Warn: scan 0x21:", ps.String())
		}

		time.Sleep(period)
	}

	// Final stats from the retained document.
	if m := b.Retained(statsTopic); m != nil {
		st := m.Payload.(twimon.Stats)
		println("Info: stats total", st.Total, "ok", st.Success, "nack", st.AddressNack, "drops", st.Drops)
	}
}

func mustDecode(b *bus.Bus, key string, dst any) {
	m := b.Retained(config.Topic(key))
	if m == nil {
		return // defaults
	}
	if err := config.Decode(m.Payload, dst); err != nil {
		println("Warn: config", key+":", err.Error())
		os.Exit(1)
	}
}
