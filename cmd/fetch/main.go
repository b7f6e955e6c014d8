package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"market-pulse/internal/config"
	"market-pulse/internal/domain"
	"market-pulse/internal/job"
	"market-pulse/internal/logging"
	"market-pulse/internal/normalize"
	"market-pulse/internal/provider"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	clientOptions  []provider.ClientOption
	stdout         io.Writer = os.Stdout
	exitFunc                 = os.Exit
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "ids", Usage: "asset ids to fetch (default from ASSET_IDS)"},
		&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "one-shot crypto market snapshot from the best available tier",
		Flags: append(flags(),
			&cli.DurationFlag{Name: "exchange-wait", Value: 3 * time.Second, Usage: "how long to collect exchange tickers; 0 skips the exchange tier"},
		),
		Action: snapshotsAction,
		Commands: []*cli.Command{
			{
				Name:   "global",
				Usage:  "global market totals",
				Flags:  flags(),
				Action: globalAction,
			},
			{
				Name:      "quote",
				Usage:     "single asset quote from the REST provider",
				ArgsUsage: "<id|symbol>",
				Flags:     flags(),
				Action:    quoteAction,
			},
		},
	}
}

type env struct {
	cfg    *config.Config
	logger *log.Logger
	rest   *provider.CoinGeckoAdapter
}

func setup(cmd *cli.Command) (*env, error) {
	_ = loadEnvFunc()
	cfg, err := loadConfigFunc()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if ids := cmd.StringSlice("ids"); len(ids) > 0 {
		cfg.AssetIDs = ids
	}
	logger := logging.New(cmd.String("log-level"))
	tracer := noop.NewTracerProvider().Tracer("fetch")

	opts := append([]provider.ClientOption{
		provider.WithBaseURL(cfg.CoinGeckoBaseURL),
		provider.WithAPIKey(cfg.CoinGeckoAPIKey),
		provider.WithTimeout(cfg.RESTTimeout),
		provider.WithLogger(logger),
	}, clientOptions...)
	client := provider.NewClient(provider.NewSpacing(cfg.RESTSpacing), opts...)

	return &env{
		cfg:    cfg,
		logger: logger,
		rest:   provider.NewCoinGeckoAdapter(tracer, client, false, logger),
	}, nil
}

func snapshotsAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ids := e.cfg.AssetIDs

	var agg *provider.ExchangeAggregator
	wait := cmd.Duration("exchange-wait")
	if wait > 0 {
		streams, err := provider.StreamsByName(e.cfg.ExchangeStreams)
		if err != nil {
			return err
		}
		if len(streams) > 0 {
			agg = provider.NewExchangeAggregator(noop.NewTracerProvider().Tracer("fetch"), streams, provider.ExchangeConfig{
				Pairs:  domain.PairsForIDs(ids),
				MaxAge: e.cfg.ExchangeMaxAge,
			}, e.logger)
		}
	}

	adapters := []provider.Adapter{e.rest, provider.NewBundledStaticAdapter()}
	// last slot is the exchange tier, left zero when skipped
	results := make([]provider.Result, len(adapters)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = a.FetchSnapshots(gctx, ids)
			return results[i].Err
		})
	}
	if agg != nil {
		g.Go(func() error {
			results[len(adapters)] = collectExchange(gctx, agg, ids, wait, e.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byTier := make(map[domain.Tier]provider.Result, len(results))
	conns := make(map[domain.Tier]domain.ConnectionStatus, len(results))
	for _, r := range results {
		if r.Tier == 0 {
			continue
		}
		byTier[r.Tier] = r
		conns[r.Tier] = r.Status
	}
	t, records, ok := job.Best(byTier, conns)
	if !ok {
		return domain.ErrNoData
	}

	view := domain.FeedView{Records: records, ActiveTier: t, Connections: conns, LastUpdate: time.Now()}
	if cmd.Bool("json") {
		return writeJSON(view)
	}
	fmt.Fprintf(stdout, "source: %s\n", t)
	fmt.Fprintln(stdout, snapshotTable(records))
	return nil
}

// collectExchange connects the links, lets tickers accumulate for wait and
// returns one aggregated result.
func collectExchange(ctx context.Context, agg *provider.ExchangeAggregator, ids []string, wait time.Duration, logger *log.Logger) provider.Result {
	linkCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- agg.Run(linkCtx) }()

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	res := agg.FetchSnapshots(ctx, ids)
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("exchange links ended", "err", err)
	}
	res.Err = nil
	return res
}

func globalAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	res := e.rest.FetchGlobal(ctx)
	if res.Status.State == domain.StateError {
		return fmt.Errorf("global fetch failed: %s", res.Status.Message)
	}
	g, ok := normalize.NormalizeGlobal(res.Payload)
	if !ok {
		return provider.ErrMalformedPayload
	}
	if cmd.Bool("json") {
		return writeJSON(g)
	}
	t := table.New().Border(lipgloss.NormalBorder()).Headers("Metric", "Value").Rows(
		[]string{"Total market cap", fmt.Sprintf("$%.0f", g.TotalMarketCapUSD)},
		[]string{"24h volume", fmt.Sprintf("$%.0f", g.TotalVolumeUSD)},
		[]string{"24h change", fmt.Sprintf("%+.2f%%", g.MarketCapChange24hPct)},
		[]string{"Active cryptocurrencies", fmt.Sprintf("%d", g.ActiveCryptocurrencies)},
		[]string{"BTC dominance", fmt.Sprintf("%.2f%%", g.MarketCapPercentage["btc"])},
	)
	fmt.Fprintln(stdout, t.String())
	return nil
}

func quoteAction(ctx context.Context, cmd *cli.Command) error {
	arg := strings.TrimSpace(cmd.Args().First())
	if arg == "" {
		return errors.New("usage: fetch quote <id|symbol>")
	}
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	id := strings.ToLower(arg)
	if a, ok := domain.AssetBySymbol(arg); ok {
		id = a.ID
	}
	payload, err := e.rest.FetchPrices(ctx, []string{id})
	if err != nil {
		return err
	}
	records := normalize.Normalize(domain.TierREST, payload)
	if len(records) == 0 {
		return fmt.Errorf("no quote for %s", arg)
	}
	if cmd.Bool("json") {
		return writeJSON(records[0])
	}
	fmt.Fprintln(stdout, snapshotTable(records))
	return nil
}

func snapshotTable(records []domain.CryptoAssetSnapshot) string {
	t := table.New().Border(lipgloss.NormalBorder()).Headers("Symbol", "Name", "Price", "24h", "Volume", "Risk")
	for _, r := range records {
		t.Row(r.Symbol, r.Name, fmt.Sprintf("$%.4f", r.PriceUSD), fmt.Sprintf("%+.2f%%", r.Change24hPct), fmt.Sprintf("%.0f", r.Volume24h), string(r.Risk))
	}
	return t.String()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
