// Command aegis is the main entry point for the Aegis personal safety
// pipeline: it wires the capture device, the acoustic classifier, the mesh
// broadcaster, and the ledger anchor client into the emergency orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietharbor/aegis/internal/config"
	"github.com/quietharbor/aegis/internal/emergency"
	"github.com/quietharbor/aegis/internal/evidence"
	"github.com/quietharbor/aegis/internal/fusion"
	"github.com/quietharbor/aegis/internal/health"
	"github.com/quietharbor/aegis/internal/ledger"
	"github.com/quietharbor/aegis/internal/mesh"
	"github.com/quietharbor/aegis/internal/mesh/lan"
	"github.com/quietharbor/aegis/internal/observe"
	"github.com/quietharbor/aegis/pkg/capture/pcm"
	"github.com/quietharbor/aegis/pkg/capture/settings"
	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/classifier/heuristic"
	"github.com/quietharbor/aegis/pkg/classifier/model"
	"github.com/quietharbor/aegis/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	audioPath := flag.String("audio", "", "raw s16le PCM file played as the microphone input")
	audioRate := flag.Int("audio-rate", pcm.DefaultSampleRate, "sample rate of the -audio stream")
	audioChannels := flag.Int("audio-channels", 1, "channel count of the -audio stream (1 or 2)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aegis: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aegis: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	slog.Info("aegis starting",
		"config", *configPath,
		"evidence_dir", cfg.App.EvidenceDir,
		"log_level", cfg.App.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aegis"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Evidence store ────────────────────────────────────────────────────────
	store, err := evidence.NewStore(cfg.App.EvidenceDir)
	if err != nil {
		slog.Error("failed to open evidence store", "err", err)
		return 1
	}

	// ── Classifier ────────────────────────────────────────────────────────────
	clsCfg := classifier.Config{
		Keyword:          cfg.Classifier.Keyword,
		TriggerThreshold: cfg.Classifier.TriggerThreshold,
	}
	var detector classifier.Detector
	if cfg.Classifier.ModelPath != "" {
		detector = model.Load(cfg.Classifier.ModelPath, clsCfg)
	} else {
		detector = heuristic.New(clsCfg)
	}

	// ── Capture device ────────────────────────────────────────────────────────
	if *audioPath == "" {
		fmt.Fprintln(os.Stderr, "aegis: no capture device available — pass -audio with a raw PCM file")
		return 1
	}
	source := pcm.NewSource(*audioPath, pcm.WithInputFormat(*audioRate, *audioChannels))
	recorder := pcm.NewRecorder(source)

	// ── Ledger ────────────────────────────────────────────────────────────────
	if cfg.Ledger.GatewayURL == "" {
		fmt.Fprintln(os.Stderr, "aegis: ledger.gateway_url is required")
		return 1
	}
	ledgerClient, err := ledger.NewClient(cfg.Ledger.GatewayURL)
	if err != nil {
		slog.Error("failed to create ledger client", "err", err)
		return 1
	}
	breaker := ledger.NewBreaker(ledger.BreakerConfig{CoolOff: cfg.Ledger.OfflineInterval})
	probe := ledger.GatewayProbe(breaker, func(ctx context.Context) error {
		_, err := ledgerClient.Head(ctx)
		return err
	})

	queue, closeQueue, err := buildQueue(ctx, cfg.Ledger)
	if err != nil {
		slog.Error("failed to open anchor queue", "err", err)
		return 1
	}
	defer closeQueue()

	// ── Mesh ──────────────────────────────────────────────────────────────────
	settingsStore, err := settings.Open(filepath.Join(cfg.App.EvidenceDir, "settings.json"))
	if err != nil {
		slog.Error("failed to open settings store", "err", err)
		return 1
	}
	senderID := loadPseudoID(settingsStore)
	var broadcaster emergency.Broadcaster
	if cfg.Mesh.RelayURL != "" {
		radio, err := lan.Dial(ctx, cfg.Mesh.RelayURL)
		if err != nil {
			slog.Error("failed to reach mesh relay", "url", cfg.Mesh.RelayURL, "err", err)
			return 1
		}
		defer radio.Close()

		meshSvc, err := mesh.NewService(radio, mesh.Config{
			SenderPseudoID:    senderID,
			AvailableAsHelper: cfg.Mesh.AvailableAsHelper,
			Roster: mesh.RosterConfig{
				MaxHelpers: cfg.Mesh.MaxHelpers,
				Staleness:  cfg.Mesh.Staleness,
				RefRSSI:    cfg.Mesh.RefRSSI,
				Exponent:   cfg.Mesh.PathLossExponent,
			},
		}, onPeerSOS)
		if err != nil {
			slog.Error("failed to create mesh service", "err", err)
			return 1
		}
		broadcaster = meshSvc
		slog.Info("mesh relay connected", "url", cfg.Mesh.RelayURL, "pseudo_id", senderID)
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch, err := emergency.New(emergency.Deps{
		Audio:         source,
		Detector:      detector,
		Store:         store,
		AudioRecorder: recorder,
		Mesh:          broadcaster,
		Anchorer:      ledgerClient,
		Queue:         queue,
		Sink:          logState,
	}, emergency.Config{
		ScreamThreshold:   cfg.Classifier.ScreamThreshold,
		DebounceThreshold: cfg.Debounce.Threshold,
		DebounceTimeout:   cfg.Debounce.Timeout,
		FusionWeights: fusion.Weights{
			Audio:     cfg.Fusion.Weights.Audio,
			Motion:    cfg.Fusion.Weights.Motion,
			Proximity: cfg.Fusion.Weights.Proximity,
			Visual:    cfg.Fusion.Weights.Visual,
		},
		FusionThreshold: cfg.Fusion.Threshold,
		SenderPseudoID:  senderID,
		ShareLocation:   cfg.Mesh.ShareLocation,
		Sweep: ledger.SweeperConfig{
			MaxRetry:        cfg.Ledger.MaxRetry,
			OnlineInterval:  cfg.Ledger.OnlineInterval,
			OfflineInterval: cfg.Ledger.OfflineInterval,
			Probe:           probe,
		},
	})
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return 1
	}

	// ── Metrics and health endpoints ──────────────────────────────────────────
	if cfg.Observe.MetricsAddr != "" {
		srv := newHTTPServer(cfg, orch, func(ctx context.Context) error {
			_, err := ledgerClient.Head(ctx)
			return err
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics server listening", "addr", cfg.Observe.MetricsAddr)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(logLevel, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	printStartupSummary(cfg, *audioPath)

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start monitoring", "err", err)
		return 1
	}
	slog.Info("monitoring — press Ctrl+C to shut down")

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")
	orch.Stop()
	slog.Info("goodbye")
	return 0
}

// pseudoIDLifetime bounds how long one pseudonymous mesh identifier stays
// in use before rotation.
const pseudoIDLifetime = 24 * time.Hour

// loadPseudoID returns the persisted sender pseudo id, rotating it when it
// has outlived its lifetime or was never set.
func loadPseudoID(s *settings.Store) string {
	id, ok := s.GetString("sender_pseudo_id")
	rotated, _ := s.GetString("sender_pseudo_id_rotated")
	if ok {
		if ts, err := time.Parse(time.RFC3339, rotated); err == nil && time.Since(ts) < pseudoIDLifetime {
			return id
		}
	}

	id = mesh.NewPseudoID()
	if err := s.Set("sender_pseudo_id", id); err != nil {
		slog.Warn("pseudo id not persisted", "err", err)
	}
	if err := s.Set("sender_pseudo_id_rotated", time.Now().Format(time.RFC3339)); err != nil {
		slog.Warn("pseudo id rotation stamp not persisted", "err", err)
	}
	return id
}

// buildQueue opens the configured anchor queue backend. The returned close
// function is a no-op for the file backend.
func buildQueue(ctx context.Context, cfg config.LedgerConfig) (ledger.Queue, func(), error) {
	switch cfg.QueueBackend {
	case config.QueuePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		q := ledger.NewPostgresQueue(pool)
		if err := q.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate anchor queue: %w", err)
		}
		return q, pool.Close, nil
	default:
		return ledger.NewFileQueue(cfg.QueuePath), func() {}, nil
	}
}

// newHTTPServer assembles the mux serving /metrics, /healthz, and /readyz,
// wrapped in the tracing middleware.
func newHTTPServer(cfg *config.Config, orch *emergency.Orchestrator, ledgerProbe func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(
		health.Pipeline(func() bool { return orch.State().IsMonitoring }),
		health.Dir("evidence", cfg.App.EvidenceDir),
		health.Ledger(ledgerProbe),
	)
	h.Register(mux)

	return &http.Server{
		Addr:              cfg.Observe.MetricsAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// onPeerSOS handles SOS messages received from nearby devices. A full build
// would surface these as helper alerts; the reference binary logs them.
func onPeerSOS(msg types.SOSMessage, distance float64) {
	slog.Warn("peer SOS received",
		"message_id", msg.ID,
		"sender", msg.SenderPseudoID,
		"threat", msg.Threat,
		"urgency", msg.Urgency,
		"approx_distance_m", fmt.Sprintf("%.1f", distance),
	)
}

// logState mirrors orchestrator state transitions into the log.
func logState(s emergency.State) {
	if s.IsEmergency {
		slog.Warn("emergency active", "evidence_id", s.EvidenceID, "triggers", s.TriggerCount)
		return
	}
	slog.Debug("pipeline state",
		"monitoring", s.IsMonitoring,
		"triggers", s.TriggerCount,
		"last_error", s.LastError,
	)
}

// applyReload applies the hot-reloadable subset of a config change. Sections
// that require re-wiring log an advisory instead.
func applyReload(level *slog.LevelVar, diff config.ConfigDiff) {
	if !diff.Any() {
		return
	}
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	if diff.ClassifierChanged || diff.DebounceChanged || diff.FusionChanged {
		slog.Warn("detection thresholds changed on disk — restart to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, audioPath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Aegis — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio source", audioPath)
	printRow("Keyword", cfg.Classifier.Keyword)
	if cfg.Classifier.ModelPath != "" {
		printRow("Classifier", "model")
	} else {
		printRow("Classifier", "heuristic")
	}
	if cfg.Mesh.RelayURL != "" {
		printRow("Mesh relay", cfg.Mesh.RelayURL)
	} else {
		printRow("Mesh relay", "(disabled)")
	}
	printRow("Ledger", cfg.Ledger.GatewayURL)
	printRow("Anchor queue", string(cfg.Ledger.QueueBackend))
	if cfg.Observe.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Observe.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
