//go:build !rp2040 && !rp2350

// Command nodelog runs a simulated sensor node and a receiver on the host,
// connected by an in-memory link: the node logs simulated samples to an
// emulated flash ring while a fake radio opens activity windows, and the
// receiver drains the log into a throwaway archive.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"nodelog/bus"
	"nodelog/flash"
	"nodelog/flashlog"
	"nodelog/internal/archive"
	"nodelog/internal/receiver"
	"nodelog/link"
	"nodelog/logctl"
	"nodelog/radio"
	"nodelog/sensor"
	"nodelog/services/config"
	"nodelog/services/nodelog"
)

const (
	runFor      = 3 * time.Second
	radioPeriod = 40 * time.Millisecond
	radioSlot   = 5 * time.Millisecond
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = context.WithValue(ctx, config.CtxDeviceKey, "sim")

	nodeEnd, hostEnd := net.Pipe()
	defer nodeEnd.Close()
	defer hostEnd.Close()

	// Node: 8 pages of 16 records.
	geom := flash.Geometry{Start: 0, End: 7, PageSize: 16 * flash.RecordSize}
	mem := flash.NewMem(geom)
	win := radio.New()
	ring, err := flashlog.NewRing(geom, mem, win)
	if err != nil {
		log.Error("ring", "err", err)
		os.Exit(1)
	}
	port := link.NewStreamPort(nodeEnd)
	defer port.Close()
	lnk := link.New(port, link.Config{})
	lnk.Start(ctx)
	ctl := logctl.New(logctl.Deps{Ring: ring, Tx: lnk, Sampler: sensor.NewSim()}, logctl.Config{})

	b := bus.NewBus(8)
	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	_ = nodelog.New(ctl, lnk, 0).Start(ctx, b.NewConnection("nodelog"))
	go fakeRadio(ctx, win)

	// Host.
	arch, err := archive.Open(archive.Options{Dir: "sim", Pebble: &pebble.Options{FS: vfs.NewMem()}})
	if err != nil {
		log.Error("archive", "err", err)
		os.Exit(1)
	}
	defer arch.Close()
	recv := receiver.New("sim", hostEnd, arch, log)
	go func() {
		if err := recv.Run(ctx); err != nil {
			log.Error("receiver stopped", "err", err)
		}
	}()

	must := func(what string, err error) {
		if err != nil {
			log.Error(what, "err", err)
			os.Exit(1)
		}
	}
	must("subscribe", recv.Subscribe(true))
	must("enable logging", recv.SetLogging(true))

	deadline := time.After(runFor)
	live := 0
loop:
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			break loop
		case <-recv.Live():
			live++
		}
	}

	st := ctl.State()
	log.Info("logging done", "live", live, "appended", st.Appended, "capacity", geom.Capacity(),
		"radio_waits", win.Waits())

	dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := recv.Drain(dctx)
	must("drain", err)
	erases, writes, reads := mem.Ops()
	log.Info("drain complete", "records", res.Records, "added", res.Added,
		"erases", erases, "writes", writes, "reads", reads)

	n := 0
	_ = arch.Scan("sim", func(e archive.Entry) error {
		n++
		if n <= 3 || n == res.Added {
			hi, lo := sensor.UnpackPair(e.Record.Pair())
			log.Info("record", "n", n,
				"at", sensor.UnpackStamp(e.Record.Date(), e.Record.Time()).Format(time.DateTime),
				"deci_c", hi, "rh_x100", lo, "seq", e.Record.Metric())
		}
		return nil
	})
}

// fakeRadio opens a short activity window every radioPeriod.
func fakeRadio(ctx context.Context, w *radio.Window) {
	t := time.NewTicker(radioPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.SetActive(false)
			return
		case <-t.C:
			w.SetActive(true)
			time.Sleep(radioSlot)
			w.SetActive(false)
		}
	}
}
