// Command mysqlcore-probe opens a single pool against one MySQL host and
// serves its debug HTTP surface (/healthz, /pool, /kill/{connID},
// /metrics), the single-pool counterpart to the teacher's dbbouncer
// proxy-plus-API binary.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbbouncer/mysqlcore"
	"github.com/dbbouncer/mysqlcore/connpool"
	"github.com/dbbouncer/mysqlcore/dsnopts"
	"github.com/dbbouncer/mysqlcore/metrics"
	"github.com/dbbouncer/mysqlcore/probe"
)

func main() {
	dsn := flag.String("dsn", "", "jdbc:mysql://host:port/database connection string")
	optsFile := flag.String("options-file", "", "path to a dsnopts YAML file (overrides -dsn)")
	username := flag.String("username", "", "database username (required with -dsn)")
	password := flag.String("password", "", "database password")
	poolSize := flag.Int("pool-size", 5, "number of slots in the connection pool")
	listenAddr := flag.String("listen", "127.0.0.1:8090", "probe server listen address")
	killCredential := flag.String("kill-credential", "", "credential required on /kill requests; empty disables authorization")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	opts, err := loadOptions(*dsn, *optsFile, *username, *password)
	if err != nil {
		logger.Error("failed to load connection options", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewRegistry().GetOrCreate(opts.Addr(), opts.Database)

	poolCfg := connpool.Config{
		Size:               *poolSize,
		AcquireTimeout:     5 * time.Second,
		MaxOccupancy:       time.Minute,
		QueryTimeout:       30 * time.Second,
		SlowQueryThreshold: 2 * time.Second,
	}

	connOpts := []connpool.Option{connpool.WithLogger(logger), connpool.WithMetrics(collector)}
	if *killCredential != "" {
		connOpts = append(connOpts, connpool.WithKillAuthCredential(*killCredential))
	}

	pool, err := mysqlcore.Open(opts, poolCfg, connOpts...)
	if err != nil {
		logger.Error("failed to open pool", "error", err)
		os.Exit(1)
	}

	server := probe.NewServer(pool, collector.Registry, logger)
	if err := server.Start(*listenAddr); err != nil {
		logger.Error("failed to start probe server", "error", err)
		os.Exit(1)
	}

	logger.Info("mysqlcore-probe ready", "listen", *listenAddr, "target", opts.Addr(), "database", opts.Database)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	server.Stop()
	pool.Close()
	logger.Info("mysqlcore-probe stopped")
}

func loadOptions(dsn, optsFile, username, password string) (dsnopts.Options, error) {
	if optsFile != "" {
		opts, err := dsnopts.LoadFile(optsFile)
		if err != nil {
			return dsnopts.Options{}, err
		}
		return *opts, nil
	}

	opts, err := dsnopts.Parse(dsn)
	if err != nil {
		return dsnopts.Options{}, err
	}
	opts.Username = username
	opts.Password = password
	if err := opts.Validate(); err != nil {
		return dsnopts.Options{}, err
	}
	return opts, nil
}
