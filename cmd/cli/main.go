// Command cli reads blocked-attempt events as JSONL, drives the mutation
// engine against each one, and emits results as JSONL. Designed to sit in
// an automated pentest pipeline between the attacking agent and its
// orchestrator.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bypassforge/bypassforge/pkg/anomaly"
	"github.com/bypassforge/bypassforge/pkg/baseline"
	"github.com/bypassforge/bypassforge/pkg/config"
	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/engine"
	"github.com/bypassforge/bypassforge/pkg/freestyle"
	"github.com/bypassforge/bypassforge/pkg/httpclient"
	"github.com/bypassforge/bypassforge/pkg/jsonutil"
	"github.com/bypassforge/bypassforge/pkg/obstacle"
	"github.com/bypassforge/bypassforge/pkg/probe"
	"github.com/bypassforge/bypassforge/pkg/review"
	"github.com/bypassforge/bypassforge/pkg/routing"
	"github.com/bypassforge/bypassforge/pkg/scoring"
	"github.com/bypassforge/bypassforge/pkg/signature"
	"github.com/bypassforge/bypassforge/pkg/telemetry"
	"github.com/bypassforge/bypassforge/pkg/ui"
	"github.com/prometheus/client_golang/prometheus"
)

// usageError marks failures caused by bad flags or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.As(err, &usageError{}) {
			os.Exit(defaults.ExitUserError)
		}
		os.Exit(defaults.ExitInternalError)
	}
	os.Exit(defaults.ExitSuccess)
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML config file")
		inputPath  = flag.String("input", "-", "obstacle events JSONL ('-' for stdin)")
		outputPath = flag.String("output", "-", "results JSONL ('-' for stdout)")
		otlp       = flag.String("otlp", "", "OTLP gRPC endpoint for trace export")
		seed       = flag.Int64("seed", 0, "mutation randomness seed")
		logLevel   = flag.String("log-level", "", "debug, info, warn, or error")
		doReview   = flag.Bool("review", false, "run the review engine and apply weight adjustments")
		quiet      = flag.Bool("quiet", false, "suppress the terminal summary")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println(defaults.ToolName, defaults.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return usageError{err}
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *otlp != "" {
		cfg.Telemetry.OTLPEndpoint = *otlp
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}

	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Options{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown failed", slog.Any("error", err))
		}
	}()

	library := signature.DefaultLibrary()
	if cfg.Routing.SignaturePreset != "" {
		if err := library.LoadPreset(cfg.Routing.SignaturePreset); err != nil {
			return err
		}
	}

	weights := routing.NewWeightStore()
	if cfg.Routing.WeightsFile != "" {
		if err := weights.LoadFile(cfg.Routing.WeightsFile); err != nil {
			return err
		}
	}

	scorer := scoring.NewScorer(cfg.Scoring)
	router := routing.NewRouter(library, weights,
		routing.WithThresholds(cfg.Routing.DeterministicThreshold, cfg.Routing.FreestyleThreshold),
		routing.WithDecayChecker(scorer))

	executor := probe.NewHTTPExecutor(
		probe.WithClient(httpclient.New(httpclient.Config{
			Timeout:            cfg.Probe.Timeout,
			InsecureSkipVerify: cfg.Probe.InsecureSkipVerify,
			Proxy:              cfg.Probe.Proxy,
		})),
		probe.WithRateLimit(cfg.Probe.RateLimit),
		probe.WithTimeout(cfg.Probe.Timeout),
		probe.WithLogger(logger))

	store, err := baseline.NewStore(cfg.BaselineDir)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSeed(cfg.Seed),
		engine.WithBaselineStore(store),
		engine.WithMetrics(prometheus.DefaultRegisterer),
		engine.WithTracer(provider.Tracer()),
	}
	if key := cfg.APIKey(); key != "" {
		opts = append(opts, engine.WithSuggester(
			freestyle.NewOpenAIClient(key, cfg.Freestyle.BaseURL, cfg.Freestyle.Model)))
	} else {
		logger.Warn("no collaborator API key; freestyle lane will abandon")
	}

	eng := engine.New(executor, scorer, router, cfg.AnomalyDir, opts...)

	in, closeIn, err := openInput(*inputPath)
	if err != nil {
		return err
	}
	defer closeIn()
	out, closeOut, err := openOutput(*outputPath)
	if err != nil {
		return err
	}
	defer closeOut()

	if !*quiet {
		fmt.Fprint(os.Stderr, ui.Banner())
	}

	outcomes, engagements, err := processEvents(ctx, eng, logger, in, out)

	for _, engagementID := range engagements {
		if *doReview {
			var anomalies []anomaly.Record
			if buf := eng.AnomalyBuffer(engagementID); buf != nil {
				anomalies = buf.Records()
			}
			reviewer := review.New(library, weights)
			report := reviewer.Review(engagementID, outcomes[engagementID], anomalies)
			reviewer.Promote(report)
			if !*quiet {
				fmt.Fprint(os.Stderr, ui.RenderSummary(report))
			}
		}
		if cerr := eng.CloseEngagement(engagementID); cerr != nil {
			logger.Warn("engagement close failed",
				slog.String("engagement_id", engagementID), slog.Any("error", cerr))
		}
	}

	if cfg.Routing.WeightsFile != "" {
		if serr := weights.SaveFile(cfg.Routing.WeightsFile); serr != nil {
			logger.Warn("weight persist failed", slog.Any("error", serr))
		}
	}
	return err
}

// processEvents streams events through the engine. Malformed input lines
// are logged and skipped; the pipeline upstream may interleave junk.
func processEvents(ctx context.Context, eng *engine.Engine, logger *slog.Logger, in *bufio.Scanner, out *jsonutil.Encoder) (map[string][]review.Outcome, []string, error) {
	outcomes := make(map[string][]review.Outcome)
	var engagements []string
	seen := make(map[string]bool)

	for in.Scan() {
		if err := ctx.Err(); err != nil {
			return outcomes, engagements, err
		}
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev obstacle.Event
		if err := jsonutil.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed event line", slog.Any("error", err))
			continue
		}
		if ev.ObstacleID == "" || ev.EngagementID == "" || ev.TargetURL == "" {
			logger.Warn("skipping event with missing identity",
				slog.String("obstacle_id", ev.ObstacleID))
			continue
		}

		res, err := eng.ProcessObstacle(ctx, &ev)
		if err != nil {
			return outcomes, engagements, err
		}
		if err := out.Encode(res); err != nil {
			return outcomes, engagements, err
		}

		if !seen[ev.EngagementID] {
			seen[ev.EngagementID] = true
			engagements = append(engagements, ev.EngagementID)
		}
		outcomes[ev.EngagementID] = append(outcomes[ev.EngagementID], review.Outcome{
			ObstacleID:       res.ObstacleID,
			Classification:   res.Class,
			SignatureID:      res.SignatureID,
			Lane:             res.LaneRouted,
			FinalScore:       res.Confidence,
			ExploitConfirmed: res.ExploitConfirmed,
			Abandoned:        res.Abandon,
		})
	}
	return outcomes, engagements, in.Err()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openInput(path string) (*bufio.Scanner, func(), error) {
	if path == "-" {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		return sc, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc, func() { f.Close() }, nil
}

func openOutput(path string) (*jsonutil.Encoder, func(), error) {
	if path == "-" {
		return jsonutil.NewEncoder(os.Stdout), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return jsonutil.NewEncoder(f), func() { f.Close() }, nil
}
