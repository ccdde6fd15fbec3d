//go:build rp2040 || rp2350

package main

import (
	"context"
	"machine"
	"time"

	"nodelog/bus"
	"nodelog/flash"
	"nodelog/flashlog"
	"nodelog/link"
	"nodelog/logctl"
	"nodelog/radio"
	"nodelog/sensor"
	"nodelog/services/config"
	"nodelog/services/nodelog"

	"github.com/jangala-dev/tinygo-uartx/uartx"
)

// Log area: 16 pages of one 4 KiB erase block each at the start of the
// flash data region.
var geom = flash.Geometry{Start: 0, End: 15, PageSize: 4096}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "sensornode")

	dev, err := flash.NewBlocks(machine.Flash, geom)
	if err != nil {
		fail("flash", err)
	}
	// Flash erases stall the core; keep them out of link transmissions.
	win := radio.New()
	ring, err := flashlog.NewRing(geom, dev, win)
	if err != nil {
		fail("ring", err)
	}

	i2c := machine.I2C0
	_ = i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})

	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	lnk := link.New(u, link.Config{TxActive: win.SetActive})
	lnk.Start(ctx)

	ctl := logctl.New(logctl.Deps{
		Ring:    ring,
		Tx:      lnk,
		Sampler: sensor.NewSHTC3(i2c),
	}, logctl.Config{})

	b := bus.NewBus(4)
	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	if err := nodelog.New(ctl, lnk, time.Second).Start(ctx, b.NewConnection("nodelog")); err != nil {
		fail("nodelog", err)
	}

	mon := b.NewConnection("main").Subscribe(nodelog.TopicState)
	for m := range mon.Channel() {
		if st, ok := m.Payload.(map[string]any); ok {
			println("[main] state", st["mode"].(string), "appended", st["appended"].(uint32))
		}
	}
}

func fail(what string, err error) {
	for {
		println("[main]", what, "init failed:", err.Error())
		time.Sleep(5 * time.Second)
	}
}
