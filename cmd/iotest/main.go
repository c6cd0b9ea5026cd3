//go:build !rp2040 && !rp2350

// Command iotest drives the I/O transports on a workstation: OS serial
// devices where the config names them, the simulator everywhere else.
// Transport counters are served on /metrics when host.metrics_addr is set.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"benchio/services/hal/config"
	"benchio/services/hal/diag"
	"benchio/services/hal/metrics"
	"benchio/services/hal/platform"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("iotest", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "config file (yaml, json or toml)")
	listPorts := fs.Bool("list-ports", false, "print the OS serial ports and exit")
	_ = fs.Parse(os.Args[1:])

	if *listPorts {
		ports, err := platform.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, "iotest:", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iotest:", err)
		os.Exit(1)
	}
	log, err := diag.NewLogger(cfg.Logging, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iotest:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdin, os.Stdout); err != nil {
		log.Error("iotest failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, in io.Reader, out io.Writer) error {
	b, err := openBench(cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- b.loop.Run(ctx) }()

	if cfg.Host.MetricsAddr != "" {
		srv := serveMetrics(cfg.Host.MetricsAddr, b, log)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	c := b.console(func(fn func()) error { return b.loop.Do(ctx, fn) })
	c.out = out
	err = repl(ctx, c, in, out)
	cancel()
	<-loopDone
	return err
}

// repl feeds lines from in to c until quit, EOF or ctx ends.
func repl(ctx context.Context, c *console, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Fprintln(out, "error:", err)
			}
			fmt.Fprint(out, "> ")
		}
	}
}

func serveMetrics(addr string, b *bench, log *zap.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(metrics.Sources{Serial: b.ser, USB: b.usb, Acquire: b.adc}),
		collectors.NewGoCollector(),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
