package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DomeLiquid/risk/config"
	"github.com/DomeLiquid/risk/core"
	"github.com/DomeLiquid/risk/metrics"
	"github.com/DomeLiquid/risk/store"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	groupId    string
}

func rootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "riskd",
		Short:         "Runs the lending risk engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	flags.StringVar(&opts.groupId, "group", "", "id of the group to operate on")

	root.AddCommand(
		initGroupCommand(opts),
		serveCommand(opts),
		checkVaultsCommand(opts),
	)
	return root
}

func (o *options) load() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *store.Store
	group   *core.Group
	metrics *metrics.Collector
	engine  *core.Engine
}

func (o *options) open(ctx context.Context) (*app, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	groupId, err := uuid.FromString(o.groupId)
	if err != nil {
		return nil, errors.Wrap(err, "--group")
	}
	s, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	group, err := s.GetGroupById(ctx, groupId)
	if err != nil {
		s.Close()
		return nil, err
	}

	rt := &app{
		cfg:     cfg,
		log:     cfg.Logger(os.Stderr).With().Str("group", group.Id.String()).Logger(),
		store:   s,
		group:   group,
		metrics: metrics.NewCollector(),
	}
	rt.engine = core.NewEngine(group, core.NewStaticPriceAdapterMgr(),
		core.WithClock(clock.New()),
		core.WithLog(&rt.log),
		core.WithRiskConfig(cfg.RiskParams()),
		core.WithJournal(s),
		core.WithCustody(s.Custody()),
		core.WithSettlement(core.NewCustodySettlement(s.Custody())),
		core.WithMetrics(rt.metrics),
	)
	if err := rt.engine.Load(ctx, s, s); err != nil {
		s.Close()
		return nil, err
	}
	return rt, nil
}

func initGroupCommand(opts *options) *cobra.Command {
	var adminKey, name, description string
	c := &cobra.Command{
		Use:   "init-group",
		Short: "Creates a new group and prints its id",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer s.Close()

			group := core.NewGroup(clock.New(), adminKey, name, description)
			if err := s.CreateGroup(c.Context(), group); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), group.Id)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&adminKey, "admin", "", "admin key of the group")
	flags.StringVar(&name, "name", "default", "group name")
	flags.StringVar(&description, "description", "", "group description")
	return c
}

func checkVaultsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-vaults",
		Short: "Compares every vault's custody balance with the ledger",
		RunE: func(c *cobra.Command, args []string) error {
			rt, err := opts.open(c.Context())
			if err != nil {
				return err
			}
			defer rt.store.Close()

			var failed int
			for _, idx := range rt.engine.BankIndices() {
				if err := rt.engine.CheckVault(c.Context(), idx); err != nil {
					rt.log.Error().Err(err).Uint16("token", uint16(idx)).Msg("vault mismatch")
					failed++
				}
			}
			if failed > 0 {
				return errors.Errorf("%d vaults do not match the ledger", failed)
			}
			fmt.Fprintln(c.OutOrStdout(), "all vaults match")
			return nil
		},
	}
}

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Loads the group and accrues interest until stopped",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.store.Close()

			if rt.cfg.Metrics.Enabled {
				server := &http.Server{
					Addr:              rt.cfg.Metrics.Listen,
					Handler:           promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.log.Error().Err(err).Msg("metrics server stopped")
					}
				}()
				defer server.Close()
			}

			rt.log.Info().Int("banks", len(rt.engine.BankIndices())).Msg("serving")
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					rt.log.Info().Msg("shutdown signal received")
					return nil
				case <-ticker.C:
					for _, idx := range rt.engine.BankIndices() {
						// failures are logged and counted by the engine
						_ = rt.engine.AccrueInterest(ctx, idx)
					}
				}
			}
		},
	}
}
