package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/loyalty/internal/httpapi"
	"github.com/roach88/loyalty/internal/source/amqp"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	AMQPURL string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, broker consumer and buffer sweeper",
		Long: `Start the ledger service.

The HTTP API accepts webhook events and points queries. When amqp.url is
configured, events are also consumed from RabbitMQ. Buffered events older
than buffer.retention are evicted every buffer.sweep_interval.

Without a database the ledger lives in memory and is lost on exit.

Example:
  loyalty serve --db ./ledger.db
  loyalty serve --config ./loyalty.cue --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringVar(&opts.AMQPURL, "amqp-url", "", "RabbitMQ URL (overrides amqp.url)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ev, err := opts.openEnv(cmd, false)
	if err != nil {
		return err
	}
	defer ev.Close()

	addr := ev.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	if opts.AMQPURL != "" {
		ev.cfg.AMQP.URL = opts.AMQPURL
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			ev.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	// A component that fails takes the others down with it.
	fail := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errOnce.Do(func() {
			firstErr = fmt.Errorf("%s: %w", name, err)
			cancel()
		})
	}
	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(name, fn())
		}()
	}

	start("engine", func() error { return ev.engine.Run(ctx) })
	start("sweeper", func() error { return ev.engine.RunSweeper(ctx, ev.cfg.SweepInterval()) })

	handler := httpapi.NewHandler(ev.engine, httpapi.WithLogger(ev.logger))
	start("http", func() error { return httpapi.Serve(ctx, ln, handler.Router(), ev.logger) })

	if ev.cfg.AMQP.URL != "" {
		cfg := amqp.Config{
			URL:      ev.cfg.AMQP.URL,
			Queue:    ev.cfg.AMQP.Queue,
			Prefetch: ev.cfg.AMQP.Prefetch,
		}
		h := amqp.NewHandler(ev.engine, ev.logger)
		start("amqp", func() error { return amqp.Consume(ctx, cfg, h, ev.logger) })
	}

	ev.logger.Info("service started",
		"addr", ln.Addr().String(),
		"db", ev.cfg.DB,
		"amqp", ev.cfg.AMQP.URL != "",
		"retention", ev.cfg.Retention(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())

	wg.Wait()

	if firstErr != nil {
		return WrapExitError(ExitFailure, "service error", firstErr)
	}
	ev.logger.Info("service stopped gracefully")
	return nil
}
