package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/checks"
	"github.com/dbtuneai/powa-agent/pkg/config"
	"github.com/dbtuneai/powa-agent/pkg/extract"
	"github.com/dbtuneai/powa-agent/pkg/logging"
	"github.com/dbtuneai/powa-agent/pkg/metrics"
	"github.com/dbtuneai/powa-agent/pkg/pg"
	"github.com/dbtuneai/powa-agent/pkg/router"
	"github.com/dbtuneai/powa-agent/pkg/scheduler"
	"github.com/dbtuneai/powa-agent/pkg/server"
	"github.com/dbtuneai/powa-agent/pkg/sink"
	"github.com/dbtuneai/powa-agent/pkg/supervise"
	"github.com/dbtuneai/powa-agent/pkg/version"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Define flags
	check := flag.Bool("check", false, "Verify configuration and database requirements, then exit")
	configFile := flag.String("config", "", "Path to the configuration file")
	watchParent := flag.Bool("exit-with-parent", false, "Stop when the parent process exits")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersion())
		return
	}

	// Set the file name of the configurations file
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("powa")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/powa")
	}

	viper.AutomaticEnv()      // Read also environment variables
	viper.SetEnvPrefix("DBT") // Set a prefix for environment variables

	// Read the configuration file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Error reading config file, %s", err)
		}
		log.Println("No config file found, proceeding with environment variables only.")
	}

	logger := logging.New()
	logger.Infof("[main] starting %s", version.GetVersion())

	if *check {
		if err := runChecks(logger); err != nil {
			logger.Errorf("[main] startup checks failed: %v", err)
			os.Exit(1)
		}
		logger.Info("[main] startup checks passed")
		return
	}

	// The worker always exits with status 1, shutdown included, so whatever
	// supervises it restarts it.
	if err := run(logger, *watchParent); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrShutdown), errors.Is(err, scheduler.ErrDeactivated), errors.Is(err, scheduler.ErrDisabled):
			logger.Infof("[main] worker stopped: %v", err)
		default:
			logger.Errorf("[main] worker stopped: %v", err)
		}
	}
	os.Exit(1)
}

func runChecks(logger *log.Logger) error {
	manager, err := config.NewManager(nil, logger)
	if err != nil {
		return err
	}
	pgConfig, err := pg.ConfigFromViper(nil)
	if err != nil {
		return fmt.Errorf("PostgreSQL connection URL not set or invalid: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return checks.CheckStartupRequirements(ctx, pgConfig, manager.Load())
}

func run(logger *log.Logger, watchParent bool) error {
	manager, err := config.NewManager(nil, logger)
	if err != nil {
		return fmt.Errorf("invalid powa configuration: %w", err)
	}
	pgConfig, err := pg.ConfigFromViper(nil)
	if err != nil {
		return fmt.Errorf("invalid postgresql configuration: %w", err)
	}
	serverConfig, err := server.ConfigFromViper(nil)
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	sinkConfig, err := sink.ConfigFromViper(nil)
	if err != nil {
		return fmt.Errorf("invalid sink configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go supervise.Signals(ctx, cancel, manager.RequestReload, logger)
	if watchParent {
		go supervise.WatchParent(ctx, cancel, supervise.DefaultParentPollInterval, logger)
	}
	manager.Watch()

	logger.Infof("[main] a stopped worker is expected to be restarted after %v", config.RestartDelay)

	sinks, err := sink.FromConfig(sinkConfig, logger)
	if err != nil {
		return err
	}
	tickStats := metrics.NewTickStats()
	sinks = append(sinks, sink.NewMetricsSink(tickStats))
	rtr := router.New(sinks, logger, router.Config{BufferSize: 100, FlushInterval: time.Minute})

	sched := scheduler.New(scheduler.Options{
		Config:  manager,
		Connect: pg.Connector(pgConfig, logger),
		Events:  rtr.Events(),
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if serverConfig.Enabled {
		pool, err := pgxpool.New(gctx, pgConfig.ConnectionURL)
		if err != nil {
			return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
		}
		defer pool.Close()

		statSource := pg.NewStatSource(pool, pgConfig, logger)
		defer statSource.Close()

		dbid, err := statSource.CurrentDatabaseID(gctx)
		if err != nil {
			return err
		}

		handler := server.NewHandler(statSource, dbid, extract.New(logger), sched, tickStats, pool)
		g.Go(func() error {
			return server.Run(gctx, serverConfig, server.NewRouter(handler, logger), logger)
		})
	}

	// The router outlives the scheduler so its final state event is delivered.
	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	routerDone := make(chan error, 1)
	go func() { routerDone <- rtr.Run(routerCtx) }()

	g.Go(func() error {
		return sched.Run(gctx)
	})

	err = g.Wait()
	stopRouter()
	if rerr := <-routerDone; rerr != nil {
		logger.Warnf("[main] error closing sinks: %v", rerr)
	}
	return err
}
