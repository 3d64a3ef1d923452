// Command stream-tender records the live streams of a set of Twitch channels.
// It:
//   - Reads a JSON configuration file (path from --config or the first argument)
//     and reloads it whenever its modification time changes.
//   - Polls Twitch for live streams, captures each new broadcast with streamlink,
//     then remuxes it with ffmpeg and copies it into the final directory.
//   - Optionally records chat next to each capture (record_chat).
//   - Optionally exposes /healthz, /status, and /metrics when HTTP_ADDR is set.
//
// Shutdown is graceful on SIGINT/SIGTERM: the post-processing job in progress
// is finished, running captures are left on disk.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/onnwee/stream-tender/chat"
	"github.com/onnwee/stream-tender/config"
	"github.com/onnwee/stream-tender/recorder"
	"github.com/onnwee/stream-tender/server"
	"github.com/onnwee/stream-tender/telemetry"
	"github.com/onnwee/stream-tender/twitchapi"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	flags := pflag.NewFlagSet("stream-tender", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "config.json", "path to the JSON configuration file")
	showVersion := flags.Bool("version", false, "print the version and exit")
	_ = flags.Parse(os.Args[1:])
	if *showVersion {
		_, _ = os.Stdout.WriteString(version + "\n")
		return
	}
	if !flags.Changed("config") && flags.NArg() > 0 {
		*configPath = flags.Arg(0)
	}

	// The loop reloads the file on its first tick; this load only fails fast on a bad start.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("path", *configPath), slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("stream-tender", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tool paths, queue size and chat are read once at startup.
	launcher := recorder.NewExecLauncher(cfg)
	launcher.CheckTools()

	var chatRecorder recorder.ChatRecorder
	if cfg.RecordChat {
		rec := chat.NewRecorder()
		chatRecorder = rec
		go func() {
			if err := rec.Run(ctx); err != nil {
				slog.Error("chat recorder exited with error", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("chat recorder disabled (record_chat not set)")
	}

	handoff := recorder.NewHandoff(cfg.QueueSize)
	orch, err := recorder.New(recorder.Options{
		ConfigPath: *configPath,
		NewPlatform: func(c *config.Config) recorder.Platform {
			return twitchapi.NewHelixClient(c.ClientID, c.ClientSecret, &http.Client{Timeout: 15 * time.Second})
		},
		Launcher: launcher,
		Chat:     chatRecorder,
		Handoff:  handoff,
	})
	if err != nil {
		slog.Error("recorder setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.NewWorker(launcher).Run(ctx, handoff)
	}()

	startPprof()

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		maxTickAge := 5 * cfg.PollInterval.Std()
		if maxTickAge < time.Minute {
			maxTickAge = time.Minute
		}
		go func() {
			if err := server.Start(ctx, addr, orch, maxTickAge); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	slog.Info("stream-tender starting",
		slog.String("version", version),
		slog.String("config", *configPath),
		slog.Int("channels", len(cfg.LoginNames)))
	if err := orch.Run(ctx); err != nil {
		slog.Error("recorder loop failed", slog.Any("err", err))
	}

	slog.Info("shutting down; waiting for post-processing")
	wg.Wait()
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// startPprof serves /debug/pprof on PPROF_ADDR when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := config.GetEnv("PPROF_ADDR", "localhost:6060")
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
