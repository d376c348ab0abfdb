// Command server runs the document authority behind a websocket endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kevinxiao27/doctree/doc"
	"github.com/kevinxiao27/doctree/internal/authority"
	"github.com/kevinxiao27/doctree/internal/config"
	"github.com/kevinxiao27/doctree/internal/server"
)

func main() {
	defer glog.Flush()
	if err := rootCmd().Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Collaborative document server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// glog registers its flags (-v, -logtostderr, ...) on the standard set.
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		maxLog     int
		seedFile   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve documents over HTTP and websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("max-log") {
				cfg.MaxLogLength = maxLog
			}
			if flags.Changed("seed") {
				cfg.SeedFile = seedFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&maxLog, "max-log", 0, "operations kept per document (overrides config)")
	cmd.Flags().StringVar(&seedFile, "seed", "", "JSON file of documents to serve (overrides config)")
	return cmd
}

func seed(cfg config.Config) ([]doc.Doc, error) {
	if cfg.SeedFile == "" {
		return doc.Examples(), nil
	}
	docs, err := doc.LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	return docs, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	docs, err := seed(cfg)
	if err != nil {
		return err
	}
	reg := authority.NewRegistry(cfg.MaxLogLength)
	defer reg.Close()
	for _, d := range docs {
		if err := reg.Add(d); err != nil {
			return err
		}
	}

	srv := server.New(cfg, reg)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("[server]serving %d documents on %s", len(docs), cfg.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		glog.Info("[server]shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.CloseConnections()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
