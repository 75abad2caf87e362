package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/dealer/broker"
	"github.com/rustyeddy/dealer/config"
	"github.com/rustyeddy/dealer/exposure"
	"github.com/rustyeddy/dealer/hedge"
	"github.com/rustyeddy/dealer/journal"
	"github.com/rustyeddy/dealer/market"
	"github.com/rustyeddy/dealer/metrics"
	"github.com/rustyeddy/dealer/oanda"
	"github.com/rustyeddy/dealer/order"
	"github.com/rustyeddy/dealer/pkg/retry"
	"github.com/rustyeddy/dealer/sim"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted scenario against the simulated liquidity provider",
	Long: `Run the quotes and client orders of the config file's simulation section
through the dealer: margin check, A/B-Book routing, the exposure ledger and the
hedging controller, with a simulated liquidity provider on the other side.

The config file is watched while the scenario runs; edits to limits or
routing rules apply to the next order.

Example:
  dealer run -f dealer.yaml --walk 250ms`,
	RunE: runRun,
}

var (
	runConfigPath string
	runWalk       time.Duration
	runSettle     time.Duration
	runSeed       int64
	runTicks      string
	runOanda      string
	runLive       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "file", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().DurationVar(&runWalk, "walk", 250*time.Millisecond, "random walk tick after the scripted quotes, 0 disables")
	runCmd.Flags().DurationVar(&runSettle, "settle", 5*time.Second, "max wait for outstanding hedges after the last order")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "random walk seed")
	runCmd.Flags().StringVar(&runTicks, "ticks", "", "replay a time,symbol,bid,ask[,event,args] CSV after the scripted quotes")
	runCmd.Flags().StringVar(&runOanda, "oanda-account", "", "stream live OANDA prices for this account instead of the scripted quotes (token in OANDA_TOKEN)")
	runCmd.Flags().BoolVar(&runLive, "live", false, "use the OANDA live environment instead of practice")
	_ = runCmd.MarkFlagRequired("file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := newScenario(cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	if err := config.Watch(runConfigPath, s.store, logger.Named("config")); err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := runOptions{
		ticks:       runTicks,
		walk:        runWalk,
		seed:        runSeed,
		settle:      runSettle,
		metricsAddr: cfg.Metrics.Addr,
	}
	if runOanda != "" {
		opts.feed = oandaFeed(cfg, runOanda, !runLive, logger.Named("oanda"), s.quotes)
	}
	results, err := s.run(ctx, opts)
	s.summary(cmd.OutOrStdout(), results)
	return err
}

func oandaFeed(cfg *config.Config, account string, practice bool, log *zap.Logger, sink oanda.QuoteSink) func(context.Context) error {
	syms := make([]market.Symbol, 0, len(cfg.Instruments))
	for sym := range cfg.Instruments {
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })

	client := oanda.NewClient(os.Getenv("OANDA_TOKEN"), practice, log)
	return func(ctx context.Context) error {
		n, err := client.StreamQuotes(ctx, oanda.StreamOptions{AccountID: account, Symbols: syms}, sink)
		log.Info("price stream closed", zap.Int("quotes", n))
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("oanda stream: %w", err)
		}
		return nil
	}
}

// scenario is the dealer core wired to the simulated outside world.
type scenario struct {
	store    *config.Store
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	journal  journal.Journal
	quotes   *market.QuoteCache
	ledger   *exposure.Ledger
	lp       *sim.Engine
	accounts *sim.Accounts
	hedger   *hedge.Controller
	orders   *order.Coordinator
}

type runOptions struct {
	// feed replaces the scripted quotes with a live source when set.
	feed func(ctx context.Context) error

	// ticks is a ticks + events CSV replayed after the scripted quotes.
	ticks       string
	walk        time.Duration
	seed        int64
	settle      time.Duration
	metricsAddr string
}

func newScenario(cfg *config.Config, log *zap.Logger) (*scenario, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &scenario{
		store:    config.NewStore(cfg),
		log:      log,
		registry: prometheus.NewRegistry(),
		quotes:   market.NewQuoteCache(),
	}
	s.metrics = metrics.New(s.registry)

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.accounts = sim.NewAccounts(s.quotes, s.store, log.Named("accounts"))
	s.journal = journal.Multi(j, s.accounts)

	s.ledger = exposure.NewLedger(
		exposure.WithLogger(log.Named("exposure")),
		exposure.WithObserver(func(snap exposure.Snapshot) {
			s.metrics.Exposure(string(snap.Symbol), snap.NetVolume.InexactFloat64())
		}),
	)
	s.lp = sim.NewEngine(s.quotes, cfg.Simulation, sim.WithLogger(log.Named("lp")))

	s.hedger = hedge.NewController(s.ledger, s.lp, s.store,
		hedge.WithLogger(log.Named("hedge")),
		hedge.WithJournal(s.journal),
		hedge.WithMetrics(s.metrics),
	)
	s.orders, err = order.New(s.store,
		order.Services{
			Quotes:   s.quotes,
			Ledger:   s.ledger,
			Accounts: s.accounts,
			Gateway:  s.lp,
		},
		order.WithLogger(log.Named("order")),
		order.WithJournal(s.journal),
		order.WithMetrics(s.metrics),
		order.WithNotifier(order.NotifyFunc(s.completed)),
	)
	if err != nil {
		_ = j.Close()
		return nil, err
	}

	mux := broker.NewMux()
	mux.Handle(broker.OriginTrade, s.orders)
	mux.Handle(broker.OriginHedge, s.hedger)
	mux.OnUnrouted(func(origin broker.Origin, ref string) {
		log.Warn("execution report without a receiver", zap.String("origin", string(origin)), zap.String("client_ref", ref))
	})
	s.lp.SetListener(mux)
	return s, nil
}

func (s *scenario) close() {
	if err := s.journal.Close(); err != nil {
		s.log.Error("close journal", zap.Error(err))
	}
}

func (s *scenario) completed(r order.Result) {
	if !r.Late {
		return
	}
	s.log.Warn("late fill booked",
		zap.String("order_id", r.OrderID),
		zap.String("symbol", string(r.Symbol)),
		zap.String("filled", r.FilledVolume.String()),
		zap.String("price", r.FillPrice.String()),
	)
}

// run replays the scripted quotes, submits the scripted orders one at a time
// and waits for the hedges they cause. The hedger, exposure recorder, quote
// walk and metrics endpoint run until the script is done or ctx ends.
func (s *scenario) run(ctx context.Context, opts runOptions) ([]order.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	bg, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error { return s.hedger.Run(bg) })
	g.Go(func() error { return s.recordExposure(bg) })
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("serving metrics", zap.String("addr", opts.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-bg.Done()
			return srv.Shutdown(context.Background())
		})
	}

	var results []order.Result
	g.Go(func() error {
		defer stop()
		cfg := s.store.Load()

		if opts.feed != nil {
			sub := s.quotes.Subscribe()
			g.Go(func() error { return opts.feed(bg) })
			select {
			case <-sub.Ready():
				sub.Unsubscribe()
			case <-bg.Done():
				sub.Unsubscribe()
				return nil
			}
		} else if err := sim.Replay(bg, s.quotes, cfg.Simulation.Quotes); err != nil {
			return fmt.Errorf("replay quotes: %w", err)
		}
		if opts.walk > 0 && opts.feed == nil {
			w := sim.NewWalk(s.quotes, s.store, opts.seed, opts.walk)
			g.Go(func() error { return w.Run(bg) })
		}

		submit := func(ctx context.Context, step config.OrderStep) error {
			res, err := s.orders.Submit(ctx, order.Order{
				AccountID: step.Account,
				Symbol:    step.Symbol,
				Side:      step.Side,
				Volume:    step.Volume,
			})
			if res.OrderID == "" {
				return err
			}
			results = append(results, res)
			return nil
		}

		if opts.ticks != "" {
			f, err := os.Open(opts.ticks)
			if err != nil {
				return fmt.Errorf("open ticks: %w", err)
			}
			n, err := sim.ReplayCSV(bg, f, s.quotes, sim.EventsFunc(submit))
			_ = f.Close()
			if err != nil && bg.Err() == nil {
				return fmt.Errorf("replay %s: %w", opts.ticks, err)
			}
			s.log.Info("ticks replayed", zap.String("path", opts.ticks), zap.Int("rows", n))
		}

		for i, step := range cfg.Simulation.Orders {
			delay, err := step.ParseDuration()
			if err != nil {
				return fmt.Errorf("order step %d: %w", i, err)
			}
			if err := retry.Sleep(bg, delay); err != nil {
				return nil
			}
			if err := submit(bg, step); err != nil {
				return fmt.Errorf("order step %d: %w", i, err)
			}
		}
		s.settle(bg, opts.settle)
		return nil
	})

	err := g.Wait()
	return results, err
}

// settle waits until no hedge is pending or submitted, at most maxWait.
func (s *scenario) settle(ctx context.Context, maxWait time.Duration) {
	tick := s.store.Load().Hedging.Interval
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	deadline := time.Now().Add(maxWait)
	for {
		// let the hedger see the last ledger commit first
		if err := retry.Sleep(ctx, tick); err != nil {
			return
		}
		if !s.hedging() || time.Now().After(deadline) {
			return
		}
	}
}

func (s *scenario) hedging() bool {
	for _, h := range s.hedger.Orders() {
		if h.State.Outstanding() {
			return true
		}
	}
	return false
}

// recordExposure journals ledger snapshots. Snapshots of a symbol that
// arrive faster than they are written are coalesced to the latest.
func (s *scenario) recordExposure(ctx context.Context) error {
	sub := s.ledger.Subscribe()
	defer sub.Unsubscribe()

	write := func() {
		for _, snap := range sub.Drain() {
			err := s.journal.RecordExposure(journal.ExposureRecord{
				Symbol:    snap.Symbol,
				NetVolume: snap.NetVolume,
				Long:      snap.Long,
				Short:     snap.Short,
				Seq:       snap.Seq,
				Time:      snap.AsOf,
			})
			if err != nil {
				s.metrics.JournalError("exposure")
				s.log.Error("record exposure", zap.String("symbol", string(snap.Symbol)), zap.Error(err))
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			write()
			return nil
		case <-sub.Ready():
			write()
		}
	}
}

func (s *scenario) summary(w io.Writer, results []order.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "ORDER\tACCOUNT\tSYMBOL\tSIDE\tVOLUME\tSTATE\tBOOK\tREASON\tPRICE\tCODE")
	for _, r := range results {
		// late fills may have moved the order on since Submit returned
		if cur, ok := s.orders.Get(r.OrderID); ok {
			r = cur
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OrderID, r.AccountID, r.Symbol, r.Side, r.Volume, r.State, r.Book, r.Reason, r.FillPrice, r.Code)
	}

	fmt.Fprintln(tw, "\nSYMBOL\tNET\tLONG\tSHORT\tSEQ")
	for _, snap := range s.ledger.Snapshots() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", snap.Symbol, snap.NetVolume, snap.Long, snap.Short, snap.Seq)
	}

	fmt.Fprintln(tw, "\nHEDGE\tSYMBOL\tSIDE\tTARGET\tFILLED\tPRICE\tSTATE\tATTEMPTS\tLAST ERROR")
	hedges := append(s.hedger.Archive(), s.hedger.Orders()...)
	for _, h := range hedges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			h.ID, h.Symbol, h.Side, h.Target, h.Filled, h.Price, h.State, h.Attempts, h.LastError)
	}

	fmt.Fprintln(tw, "\nACCOUNT\tBALANCE\tEQUITY")
	for _, a := range s.store.Load().Accounts {
		bal, err := s.accounts.Balance(a.ID)
		if err != nil {
			continue
		}
		eq, err := s.accounts.Equity(context.Background(), a.ID)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, bal.StringFixed(2), err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, bal.StringFixed(2), eq.StringFixed(2))
	}
	_ = tw.Flush()

	st := s.lp.Stats()
	fmt.Fprintf(w, "\nLP tickets: %d filled, %d rejected, %d cancelled, %d open\n", st.Filled, st.Rejected, st.Cancelled, st.Open)
	if blocked := s.hedger.Blocked(); len(blocked) > 0 {
		fmt.Fprintf(w, "HEDGE_FAILED, symbols blocked until acknowledged: %v\n", blocked)
	}
}
