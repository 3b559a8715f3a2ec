// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Command flipflop runs a demo flip/flop circuit.
//
// By default the simulation runs headless until interrupted. With -png, a
// fixed number of ticks is run and the result is saved as a PNG image. With
// -term, the circuit is drawn in the terminal.
//
// When FLIPFLOP_LISTEN is set, dirty frames are streamed to remote renderers
// connected to ws://<listen>/frames.
//
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/db47h/flipflop"
	"github.com/db47h/flipflop/config"
	"github.com/db47h/flipflop/render/soft"
	"github.com/db47h/flipflop/render/term"
	"github.com/db47h/flipflop/sim"
	"github.com/db47h/flipflop/stream"
	"github.com/gdamore/tcell/v2"
	"github.com/gogpu/gg"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "environment file")
		pngFile = flag.String("png", "", "save a snapshot to this PNG file after -ticks ticks")
		ticks   = flag.Int("ticks", 7, "number of ticks to run with -png")
		width   = flag.Int("width", 640, "snapshot width")
		height  = flag.Int("height", 480, "snapshot height")
		tui     = flag.Bool("term", false, "draw the circuit in the terminal")
		ring    = flag.Int("ring", 5, "ring oscillator length (odd)")
		delay   = flag.Int("delay", 3, "delay line length")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err = run(ctx, cfg, logrus.NewEntry(log), options{
		png: *pngFile, ticks: *ticks, width: *width, height: *height,
		term: *tui, ring: *ring, delay: *delay,
	}); err != nil && errors.Cause(err) != context.Canceled {
		log.WithError(err).Fatal("exiting")
	}
}

type options struct {
	png           string
	ticks         int
	width, height int
	term          bool
	ring, delay   int
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry, opts options) error {
	g, gates, err := demo(opts.ring, opts.delay)
	if err != nil {
		return err
	}
	circuit := sim.NewCircuit(cfg.Workers, gates...)
	defer circuit.Dispose()

	core, err := flipflop.New(flipflop.Config{
		Layout:   cfg.Layout,
		Engine:   circuit,
		Palette:  cfg.Palette,
		Fallback: cfg.Fallback,
		Log:      log,
	})
	if err != nil {
		return err
	}
	if ch := core.Rebuild(g); len(ch.Dropped) > 0 {
		return errors.Errorf("demo graph has %d malformed edges", len(ch.Dropped))
	}
	if err = scene(core, gates); err != nil {
		return err
	}
	core.OnPublish(func(f *flipflop.Frame) {
		log.WithField("tick", f.Tick).Debug("frame published")
	})

	if cfg.Listen != "" {
		stop, err := serve(cfg.Listen, core, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	switch {
	case opts.png != "":
		return snapshot(ctx, core, opts)
	case opts.term:
		return terminal(ctx, core, cfg.TickRate)
	}
	return core.Run(ctx, cfg.TickRate)
}

// serve starts the frame stream server. The returned function shuts it down.
//
func serve(addr string, core *flipflop.Core, log *logrus.Entry) (func(), error) {
	hub := stream.NewHub(log)
	core.OnPublish(hub.Broadcast)
	mux := http.NewServeMux()
	mux.Handle("/frames", hub)
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return nil, errors.Wrapf(err, "listen on %s", addr)
	case <-time.After(100 * time.Millisecond):
	}
	log.WithField("addr", addr).Info("streaming frames")
	return func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func snapshot(ctx context.Context, core *flipflop.Core, opts options) error {
	for i := 0; i < opts.ticks; i++ {
		if _, err := core.Step(ctx); err != nil {
			return err
		}
	}
	dc, err := soft.Snapshot(core, opts.width, opts.height, gg.RGB(0.1, 0.1, 0.1))
	if err != nil {
		return err
	}
	if err = dc.SavePNG(opts.png); err != nil {
		return errors.Wrapf(err, "save %s", opts.png)
	}
	fmt.Printf("tick %d saved to %s\n", opts.ticks, opts.png)
	return nil
}

func terminal(ctx context.Context, core *flipflop.Core, rate float64) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return errors.Wrap(err, "terminal")
	}
	if err = s.Init(); err != nil {
		return errors.Wrap(err, "terminal")
	}
	defer s.Fini()
	v := core.Viewport()
	v.Zoom = 2
	core.SetViewport(v)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- core.Run(ctx, rate) }()
	if err = term.Run(ctx, s, core, 50*time.Millisecond); err != nil {
		return err
	}
	cancel()
	if err = <-errc; errors.Cause(err) != context.Canceled {
		return err
	}
	return nil
}
