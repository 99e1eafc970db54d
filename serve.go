package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/javi11/nntpchand/auth"
	"github.com/javi11/nntpchand/config"
	"github.com/javi11/nntpchand/digest"
	"github.com/javi11/nntpchand/frontend"
	"github.com/javi11/nntpchand/logging"
	"github.com/javi11/nntpchand/metrics"
	"github.com/javi11/nntpchand/nntpserver"
	"github.com/javi11/nntpchand/peersync"
	"github.com/javi11/nntpchand/store"
)

var logger = logging.Logger("main")

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nntpchand.yaml", "path to the YAML configuration")
	return cmd
}

// serve runs every component until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg config.Config) (err error) {
	hasher, err := digest.New(cfg.Articles.Hash)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Options{
		Root:   cfg.Articles.StorePath,
		Index:  cfg.Articles.Index,
		Hasher: hasher,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	m := metrics.New()

	var logins auth.LoginDB
	if cfg.NNTP.AuthDB != "" {
		db, err := auth.OpenFile(cfg.NNTP.AuthDB)
		if err != nil {
			return err
		}
		logins = db
	}

	engine := peersync.NewEngine(peersync.Config{
		KnowledgeSize:     cfg.Feed.KnowledgeSize,
		QueueSize:         cfg.Feed.QueueSize,
		OfferTimeout:      cfg.Feed.OfferTimeout,
		ReconnectInterval: cfg.Feed.ReconnectInterval,
	}, st, m)
	peers := make([]peersync.PeerConfig, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		pc := peersync.PeerConfig{Name: p.Name, Address: p.Address, Username: p.Username, Password: p.Password}
		peers = append(peers, pc)
		engine.AddFeed(pc, peersync.Dial)
	}

	notifier, err := frontend.New(frontend.Config{
		Type:            cfg.Frontend.Type,
		Exec:            cfg.Frontend.Exec,
		TemplateDir:     cfg.Frontend.TemplateDir,
		OutDir:          cfg.Frontend.OutDir,
		TemplateDialect: cfg.Frontend.TemplateDialect,
		MaxPages:        cfg.Frontend.MaxPages,
		NewsgroupPrefix: cfg.Frontend.NewsgroupPrefix,
	}, st)
	if err != nil {
		return err
	}
	dispatcher := frontend.NewDispatcher(notifier, cfg.Frontend.Workers, cfg.Frontend.QueueSize, cfg.Frontend.Timeout, m)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	srv, err := nntpserver.NewServer(nntpserver.Config{
		Address:        cfg.NNTP.Bind,
		InstanceName:   cfg.NNTP.InstanceName,
		MaxLineLength:  cfg.NNTP.MaxLineLength,
		MaxArticleSize: cfg.NNTP.MaxArticleSize,
		IdleTimeout:    cfg.NNTP.IdleTimeout,
		AllowPost:      cfg.NNTP.PostingAllowed(),
		Peers:          peers,
	}, nntpserver.Deps{
		Store:    st,
		Engine:   engine,
		Logins:   logins,
		Notifier: dispatcher,
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("nntpchand started",
		"address", srv.Addr().String(),
		"instance", cfg.NNTP.InstanceName,
		"index", cfg.Articles.Index,
		"hash", hasher.Name(),
		"frontend", notifier.Name(),
		"peers", len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if cfg.Metrics.Bind != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Bind) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Close()
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
