package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketflow/perpcore/internal/config"
	"github.com/marketflow/perpcore/internal/domain"
	"github.com/marketflow/perpcore/internal/engine"
	httpserver "github.com/marketflow/perpcore/internal/interfaces/http"
	"github.com/marketflow/perpcore/internal/metrics"
	"github.com/marketflow/perpcore/internal/postgres"
	"github.com/marketflow/perpcore/internal/provider"
	"github.com/marketflow/perpcore/internal/regime"
	"github.com/marketflow/perpcore/internal/store"
)

var (
	flagConfig   string
	flagSnapshot string
	flagFormat   string
)

// cycleInput is the JSON document the cycle command consumes: one full
// market snapshot, tables ordered slow to fastest, bars oldest first.
type cycleInput struct {
	Symbol     string                     `json:"symbol"`
	Slow       domain.Table               `json:"slow"`
	Fast       domain.Table               `json:"fast"`
	Fastest    domain.Table               `json:"fastest"`
	Book       *domain.OrderBookSnapshot  `json:"book,omitempty"`
	Position   *domain.Position           `json:"position,omitempty"`
	Equity     float64                    `json:"equity"`
	Asset      domain.AssetInfo           `json:"asset"`
	PrevRegime string                     `json:"prev_regime"`
}

func main() {
	root := &cobra.Command{
		Use:   "perpcore",
		Short: "Market-regime and trade-signal decision engine for a perp-futures symbol",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config (defaults apply when empty)")

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Evaluate one decision cycle from a JSON market snapshot",
		RunE:  runCycle,
	}
	cycleCmd.Flags().StringVar(&flagSnapshot, "snapshot", "", "path to JSON market snapshot (required)")
	cycleCmd.Flags().StringVar(&flagFormat, "format", "json", "output format: json or text")
	cycleCmd.MarkFlagRequired("snapshot")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, and the latest decision over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagSnapshot, "snapshot", "", "optional snapshot to evaluate and publish on startup")

	root.AddCommand(cycleCmd, serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	in, err := loadInputs(flagSnapshot, cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	eng := engine.New(cfg.Engine, reg)
	res := eng.Evaluate(in)

	ctx := cmd.Context()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache := store.NewSignalCache(client)
		if err := cache.Set(ctx, res.Symbol, res.Signal); err != nil {
			log.Warn().Err(err).Msg("signal cache write failed")
		}
	}
	if cfg.Postgres.Enabled {
		db, err := postgres.Open(cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.ConnLifetime)
		if err != nil {
			log.Warn().Err(err).Msg("audit store unavailable")
		} else {
			defer db.Close()
			repo := postgres.NewCycleRepo(db, cfg.Postgres.QueryTimeout)
			if _, err := repo.Insert(ctx, in.Now, res); err != nil {
				log.Warn().Err(err).Msg("audit insert failed")
			}
		}
	}

	return printResult(cmd, res, flagFormat)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	reg := metrics.NewRegistry()
	srv := httpserver.NewServer(cfg.HTTP.Addr, reg)

	if flagSnapshot != "" {
		in, err := loadInputs(flagSnapshot, cfg)
		if err != nil {
			return err
		}
		eng := engine.New(cfg.Engine, reg)
		srv.Publish(eng.Evaluate(in))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func loadInputs(path string, cfg config.Config) (engine.Inputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Inputs{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var in cycleInput
	if err := json.Unmarshal(data, &in); err != nil {
		return engine.Inputs{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	symbol := in.Symbol
	if symbol == "" {
		symbol = cfg.Symbol
	}

	// The snapshot's book flows through the provider stack so the same
	// breaker and rate-limit path covers live sources later.
	books := provider.NewRateLimitedProvider(
		provider.NewBreakerProvider(provider.NewStaticProvider(in.Book), cfg.Provider.Breaker),
		cfg.Provider.RPS, cfg.Provider.Burst,
	)
	book, err := books.OrderBook(context.Background(), symbol)
	if err != nil {
		log.Warn().Err(err).Msg("order book unavailable, gate will soft-stop")
		book = nil
	}

	prev := regime.Unknown
	if in.PrevRegime != "" {
		prev = regime.Regime(in.PrevRegime)
	}

	return engine.Inputs{
		Symbol:     symbol,
		Slow:       &in.Slow,
		Fast:       &in.Fast,
		Fastest:    &in.Fastest,
		Book:       book,
		Position:   in.Position,
		Equity:     in.Equity,
		Asset:      in.Asset,
		PrevRegime: prev,
		Now:        time.Now().UTC(),
	}, nil
}

func printResult(cmd *cobra.Command, res engine.Result, format string) error {
	switch format {
	case "json":
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	case "text":
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "symbol:   %s\n", res.Symbol)
		fmt.Fprintf(w, "regime:   %s (strength %.1f, vol %s)\n", res.Regime, res.TrendStrength, res.Vol)
		fmt.Fprintf(w, "action:   %s (risk x%.2f)\n", res.Decision.Action, res.Decision.RiskScale)
		fmt.Fprintf(w, "signal:   side=%s score=%.1f entry_ok=%v\n", res.Signal.Side, res.Signal.Score, res.Signal.EntryOK)
		fmt.Fprintf(w, "plan:     %s qty=%.4f kind=%s\n", res.Plan.Action, res.Plan.Quantity, res.Plan.Kind)
		for _, r := range res.Plan.Reasons {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	default:
		return fmt.Errorf("unknown format %q (want json or text)", format)
	}
	return nil
}

func applyLogLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}
