// Command affinityd streams an OpenBCI-compatible EEG board over
// serial, decodes frames to microvolt samples, scores five-second
// windows, and serves live data plus results over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cortical-data/affinity.report/internal/api"
	"github.com/cortical-data/affinity.report/internal/config"
	"github.com/cortical-data/affinity.report/internal/cyton"
	"github.com/cortical-data/affinity.report/internal/db"
	"github.com/cortical-data/affinity.report/internal/edfrec"
	"github.com/cortical-data/affinity.report/internal/eeg"
	"github.com/cortical-data/affinity.report/internal/monitoring"
	"github.com/cortical-data/affinity.report/internal/serialmux"
	"github.com/cortical-data/affinity.report/internal/stream"
	"github.com/cortical-data/affinity.report/internal/version"
	"github.com/cortical-data/affinity.report/internal/window"
)

var (
	devMode    = flag.Bool("dev", false, "Replay fixture frames instead of opening a serial port")
	fixtures   = flag.String("fixtures", "fixtures.bin", "Raw frame dump replayed in dev mode")
	configPath = flag.String("config", "", "Optional JSON config file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	port       = flag.String("port", "", "Serial port path (overrides config)")
	daisy      = flag.Bool("daisy", false, "16-channel daisy board (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	record     = flag.String("record", "", "Record the session to this EDF file (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

// decodePipeline owns the frame decoder. Feed runs on the decode
// goroutine while Stats serves concurrent API reads, hence the lock.
type decodePipeline struct {
	mu  sync.Mutex
	dec *cyton.Decoder
}

func (p *decodePipeline) feed(chunk []byte) []cyton.SampleVector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dec.Feed(chunk)
}

func (p *decodePipeline) stats() cyton.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dec.Stats()
}

func loadConfig() *config.Config {
	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Flags beat the config file, but only the ones actually passed.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "port":
			cfg.Port = port
		case "daisy":
			cfg.Daisy = daisy
		case "db":
			cfg.DBPath = dbPath
		case "record":
			cfg.EDFPath = record
		}
	})
	return cfg
}

func main() {
	flag.Parse()
	if *debug {
		monitoring.EnableDebug()
	}
	monitoring.Logf("affinityd %s (%s)", version.Version, version.GitSHA)
	cfg := loadConfig()

	var m serialmux.Mux
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file (generate one with gen-frames): %v", err)
		}
		m = serialmux.NewMockMux(data)
	} else {
		var err error
		m, err = serialmux.NewBoardMux(cfg.GetPort(), serialmux.PortOptions{BaudRate: cfg.GetBaudRate()})
		if err != nil {
			log.Fatalf("failed to open board port: %v", err)
		}
	}
	defer m.Close()

	database, err := db.New(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	sessionID, err := database.StartSession(cfg.GetPort(), cfg.GetSampleRate(), cfg.Channels())
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	defer func() {
		if err := database.EndSession(sessionID); err != nil {
			monitoring.Logf("failed to end session: %v", err)
		}
	}()
	monitoring.Logf("session %s started (%d channels at %.0f Hz)", sessionID, cfg.Channels(), cfg.GetSampleRate())

	var recorder *edfrec.Recorder
	if path := cfg.GetEDFPath(); path != "" {
		recorder, err = edfrec.Create(path, cfg.Channels(), cfg.GetSampleRate())
		if err != nil {
			log.Fatalf("failed to open EDF recording: %v", err)
		}
		defer recorder.Close()
	}

	hub := stream.NewHub()
	defer hub.Close()

	pipeline := &decodePipeline{dec: cyton.NewDecoder(cyton.Config{
		Scale: cfg.GetScale(),
		Daisy: cfg.GetDaisy(),
	})}
	acc := window.New(cfg.Channels(), cfg.WindowSamples())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("serial monitor failed: %v", err)
			stop()
		}
		monitoring.Debugf("monitor routine terminated")
	}()

	// decode raw chunks into sample vectors and fan them out to the
	// window accumulator, the websocket hub and the EDF recorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDecode(ctx, m, cfg, pipeline, acc, hub, recorder)
	}()

	// run the board start-streaming handshake once the monitor is up
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Initialize(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				monitoring.Logf("board initialization failed: %v", err)
			}
			return
		}
		hub.SetStatus(true, "board streaming")
	}()

	// score full windows on a fixed interval
	wg.Add(1)
	go func() {
		defer wg.Done()
		runAnalysis(ctx, cfg, acc, database, sessionID, hub)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr: cfg.GetListen(),
			Handler: api.NewServer(api.Config{
				DB:           database,
				Hub:          hub,
				Mux:          m,
				DecoderStats: pipeline.stats,
			}).ServeMux(),
		}

		go func() {
			monitoring.Logf("listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
}

// runDecode drains the serial subscription until the context ends.
func runDecode(ctx context.Context, m serialmux.Mux, cfg *config.Config, pipeline *decodePipeline, acc *window.Accumulator, hub *stream.Hub, recorder *edfrec.Recorder) {
	id, chunks := m.Subscribe()
	defer m.Unsubscribe(id)

	decimation := cfg.GetStreamDecimation()
	var sinceBroadcast int
	var packetNum uint64

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			for _, v := range pipeline.feed(chunk) {
				packetNum++
				acc.Push(v)

				if recorder != nil {
					if err := recorder.Append(v); err != nil {
						monitoring.Debugf("recording sample dropped: %v", err)
					}
				}

				sinceBroadcast++
				if sinceBroadcast >= decimation {
					sinceBroadcast = 0
					hub.Broadcast(stream.SampleMessage{
						Type:      stream.TypeSample,
						Timestamp: float64(v.Timestamp.UnixNano()) / float64(time.Second),
						PacketNum: packetNum,
						Channels:  v.Channels,
					})
				}
			}
		case <-ctx.Done():
			monitoring.Debugf("decode routine terminated")
			return
		}
	}
}

// runAnalysis scores the current window on every tick once enough
// samples have accumulated.
func runAnalysis(ctx context.Context, cfg *config.Config, acc *window.Accumulator, database *db.DB, sessionID string, hub *stream.Hub) {
	analyzer := eeg.NewAnalyzer(cfg.GetSampleRate(), cfg.GetMontage())
	ticker := time.NewTicker(cfg.GetAnalysisInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !acc.Full() {
				monitoring.Debugf("window not full yet (%d samples)", acc.Len())
				continue
			}
			snapshot := acc.Snapshot()

			result, err := analyzer.Analyze(snapshot)
			if err != nil {
				monitoring.Logf("analysis failed: %v", err)
				continue
			}
			bands, err := analyzer.BandSummary(snapshot)
			if err != nil {
				monitoring.Logf("band summary failed: %v", err)
				bands = nil
			}

			if _, err := database.RecordScore(sessionID, result, bands); err != nil {
				monitoring.Logf("failed to record score: %v", err)
			}
			hub.Broadcast(stream.AnalysisMessage{
				Type:      stream.TypeAnalysis,
				Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
				Result:    result,
			})
			monitoring.Logf("score %.1f (%s)", result.Score, result.Category)
		case <-ctx.Done():
			return
		}
	}
}
