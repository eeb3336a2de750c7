// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package klvsync carries a KLV metadata stream alongside a video
// stream through a mux/demux round trip and overlays the timing
// comparison on every displayed frame.
package klvsync

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"klvsync/pkg/capture"
	"klvsync/pkg/config"
	"klvsync/pkg/container"
	"klvsync/pkg/display"
	"klvsync/pkg/klv"
	"klvsync/pkg/log"
	"klvsync/pkg/metrics"
	"klvsync/pkg/overlay"
	"klvsync/pkg/pipeline"
	"klvsync/pkg/system"
	"klvsync/pkg/timing"
	"klvsync/pkg/web"
)

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := config.NewEnv(envPath, envYAML)
	if err != nil {
		return fmt.Errorf("could not get environment config: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(*env, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		if err != nil {
			app.logf(log.LevelError, "fatal error: %v", err)
		}
	case signal := <-stop:
		app.logf(log.LevelInfo, "received %v, stopping", signal)
	}

	app.pipeline.Close()
	app.logf(log.LevelInfo, "pipeline stopped")

	cancel()
	wg.Wait()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()

	if err != nil {
		return err
	}
	return app.server.Shutdown(ctx2)
}

// App is the main application struct.
type App struct {
	wg  *sync.WaitGroup
	env config.Env

	logger  *log.Logger
	logDB   *log.DB
	logf    log.Func
	klvLogf log.Func

	metrics *metrics.Metrics
	system  *system.System
	mux     *http.ServeMux
	server  *http.Server

	pipeline *pipeline.Pipeline
	pipeRef  *pipeline.WeakRef

	source     capture.Source
	muxer      *container.Muxer
	demuxer    *container.Demuxer
	probe      *timing.Probe
	packetizer *klv.Packetizer
	slot       *overlay.Slot
	compositor *overlay.Compositor
	surface    *display.LogSurface
	chain      *display.Chain
}

func newApp(env config.Env, wg *sync.WaitGroup) (*App, error) { //nolint:funlen
	logger := log.NewLogger(env.MinLevel, wg)
	logDB := log.NewDB(env.LogDBPath(), wg)

	m := metrics.New()

	pl := pipeline.New("klvsync")
	m.SetState(pl.State())

	sys := system.New(
		func() string { return pl.State().String() },
		log.NewFunc(logger, "system", ""),
	)

	// Container boundary.
	muxer := container.NewMuxer(env.QueueSize)
	videoIn, err := muxer.AddStream(pipeline.TagVideo)
	if err != nil {
		return nil, fmt.Errorf("could not add video stream: %w", err)
	}
	klvIn, err := muxer.AddStream(pipeline.TagKLV)
	if err != nil {
		return nil, fmt.Errorf("could not add metadata stream: %w", err)
	}
	demuxer := container.NewDemuxer(
		muxer.Output(), log.NewFunc(logger, "pipeline", "demux"))

	// Overlay.
	slot := &overlay.Slot{}
	compositor := overlay.NewCompositor(
		slot, overlay.StampRenderer{}, log.NewFunc(logger, "display", "compositor"))

	videosinkLogf := log.NewFunc(logger, "display", "videosink")
	surface := display.NewLogSurface(videosinkLogf)
	surface.OnDimensionsChanged(compositor.SetDimensions)
	surface.SetDimensions(env.Width, env.Height)

	chain := display.NewChain(
		display.NopDecoder{}, compositor, surface, videosinkLogf,
		func() { pl.SinkEOS("videosink") },
	)
	chain.Pad().AddProbe(func(info pipeline.ProbeInfo) pipeline.ProbeReturn {
		if info.Buffer != nil {
			videosinkLogf(log.LevelDebug, "frame pts=%v", info.Buffer.PTS)
		}
		return pipeline.ProbeOK
	})

	// Capture side.
	probe := timing.NewProbe(
		env.FrameBudget(), log.NewFunc(logger, "timing", "probe"), m.ObserveFrame)
	packetizer := klv.NewPacketizer(klvIn, log.NewFunc(logger, "klv", "packetizer"))

	var source capture.Source
	if env.SDPPath != "" {
		sdpRaw, err := os.ReadFile(env.SDPPath)
		if err != nil {
			return nil, fmt.Errorf("could not read session description: %w", err)
		}
		source, err = capture.NewRTPSource(sdpRaw, log.NewFunc(logger, "capture", "rtpsrc"))
		if err != nil {
			return nil, fmt.Errorf("could not create rtp source: %w", err)
		}
	} else {
		source = capture.NewTestSource(
			env.Width, env.Height, env.FrameRate, env.MaxFrames,
			log.NewFunc(logger, "capture", "testsrc"))
	}

	// Each video frame produces one metadata record in its own push
	// context, record order matches frame order.
	source.SrcPad().AddProbe(func(info pipeline.ProbeInfo) pipeline.ProbeReturn {
		if info.Buffer != nil {
			probe.Observe(info.Buffer.PTS)
			if err := packetizer.OnFrame(info.Buffer.PTS); err != nil {
				pl.Bus().Post(pipeline.MessageError{
					Src:   "packetizer",
					Err:   err,
					Debug: fmt.Sprintf("frame pts=%v", info.Buffer.PTS),
				})
			}
		}
		if info.Event != nil && info.Event.Kind == pipeline.EventEOS {
			packetizer.Close()
		}
		return pipeline.ProbeOK
	})
	if err := source.SrcPad().Link(videoIn.SinkPad()); err != nil {
		return nil, fmt.Errorf("could not link source to muxer: %w", err)
	}

	if err := pl.Add(source); err != nil {
		return nil, fmt.Errorf("could not add source: %w", err)
	}
	if err := pl.Add(demuxer); err != nil {
		return nil, fmt.Errorf("could not add demuxer: %w", err)
	}

	// Routes.
	mux := http.NewServeMux()
	mux.Handle("/api/logs", web.LogFeed(logger))
	mux.Handle("/api/logs/query", web.LogQuery(logDB))
	mux.Handle("/api/status", web.SystemStatus(sys))
	mux.Handle("/metrics", m.Handler())

	app := &App{
		wg:  wg,
		env: env,

		logger:  logger,
		logDB:   logDB,
		logf:    log.NewFunc(logger, "app", ""),
		klvLogf: log.NewFunc(logger, "klv", "klvsink"),

		metrics: m,
		system:  sys,
		mux:     mux,

		pipeline: pl,
		pipeRef:  pl.WeakRef(),

		source:     source,
		muxer:      muxer,
		demuxer:    demuxer,
		probe:      probe,
		packetizer: packetizer,
		slot:       slot,
		compositor: compositor,
		surface:    surface,
		chain:      chain,
	}

	// Demuxer outputs appear while the pipeline is running, the
	// callback must not keep the pipeline alive.
	demuxer.OnOutputAdded(app.onDemuxOutput)

	return app, nil
}

// onDemuxOutput wires a dynamically appearing stream, classified by
// output name. Unsupported streams are left unconnected.
func (app *App) onDemuxOutput(out *container.Output) {
	pl, ok := app.pipeRef.Get()
	if !ok {
		return
	}

	name := out.Name()
	switch {
	case strings.Contains(name, "video"):
		if err := out.Pad().Link(app.chain.Pad()); err != nil {
			pl.Bus().Post(pipeline.MessageError{
				Src:   "demux",
				Err:   err,
				Debug: fmt.Sprintf("link %v", name),
			})
			return
		}
		app.logf(log.LevelInfo, "connected %v to videosink", name)

	case strings.Contains(name, "private"):
		queue := pipeline.NewQueue("klvqueue", app.env.QueueSize)
		sink := pipeline.NewSink("klvsink", app.onKLVRecord,
			func() { pl.SinkEOS("klvsink") })

		pl.RegisterSink(sink.Name())

		// The queue must not start before its src pad is linked.
		err := func() error {
			if err := out.Pad().Link(queue.SinkPad()); err != nil {
				return fmt.Errorf("link queue: %w", err)
			}
			if err := queue.SrcPad().Link(sink.Pad()); err != nil {
				return fmt.Errorf("link sink: %w", err)
			}
			if err := pl.Add(queue); err != nil {
				return fmt.Errorf("add queue: %w", err)
			}
			return nil
		}()
		if err != nil {
			pl.Bus().Post(pipeline.MessageError{
				Src:   "demux",
				Err:   err,
				Debug: fmt.Sprintf("link %v", name),
			})
			return
		}
		app.logf(log.LevelInfo, "connected %v to klvsink", name)

	default:
		app.logf(log.LevelWarning, "unsupported stream type: %v", name)
	}
}

// onKLVRecord publishes a received metadata record to the overlay.
// Malformed records are reported but do not stop the stream.
func (app *App) onKLVRecord(b *pipeline.Buffer) error {
	var rec klv.Record
	if err := rec.Unmarshal(b.Data); err != nil {
		app.klvLogf(log.LevelWarning, "could not parse record: %v", err)
		return nil
	}

	if len(rec.Value) == 4 {
		counter := binary.LittleEndian.Uint32(rec.Value)
		app.klvLogf(log.LevelInfo, "received record %v pts=%v", counter, b.PTS)
	} else {
		app.klvLogf(log.LevelInfo, "received record len=%v pts=%v", len(rec.Value), b.PTS)
	}

	app.slot.Publish(b)
	app.metrics.RecordPublished()
	return nil
}

func (app *App) run(ctx context.Context) error {
	// Main server.
	address := ":" + strconv.Itoa(app.env.Port)
	app.server = &http.Server{Addr: address, Handler: app.mux}

	app.logger.Start(ctx)
	go app.logger.LogToStdout(ctx)

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if the log database is corrupt.
		app.logf(log.LevelError, "could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveEntries(ctx, app.logger)
	}

	app.logf(log.LevelInfo, "starting")

	if err := app.env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	go app.system.StatusLoop(ctx)

	go func() {
		err := app.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.pipeline.Bus().Post(pipeline.MessageError{
				Src:   "web",
				Err:   err,
				Debug: "server stopped",
			})
		}
	}()
	app.logf(log.LevelInfo, "serving app on port %v", app.env.Port)

	// Pipeline up.
	app.pipeline.RegisterSink(app.chain.Pad().Name())
	if err := app.pipeline.SetState(pipeline.StatePlaying); err != nil {
		return fmt.Errorf("could not start pipeline: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			app.pipeline.Close()
			return nil

		case msg := <-app.pipeline.Bus().Messages():
			switch m := msg.(type) {
			case pipeline.MessageStateChanged:
				app.logf(log.LevelInfo, "state changed %v -> %v", m.Old, m.Current)
				app.metrics.SetState(m.Current)

			case pipeline.MessageEOS:
				app.logf(log.LevelInfo, "end of stream")
				app.pipeline.Close()
				return nil

			case pipeline.MessageError:
				app.logf(log.LevelError, "error from %v: %v (%v)", m.Src, m.Err, m.Debug)
				app.pipeline.Close()
				return m.Err
			}
		}
	}
}
