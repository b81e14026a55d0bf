package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/harborgrid/harbormaster/audit"
	"github.com/harborgrid/harbormaster/certs"
	"github.com/harborgrid/harbormaster/cmd/flags"
	"github.com/harborgrid/harbormaster/common"
	"github.com/harborgrid/harbormaster/config"
	"github.com/harborgrid/harbormaster/discovery"
	"github.com/harborgrid/harbormaster/httpserver"
	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/metrics"
	"github.com/harborgrid/harbormaster/registry"
	"github.com/harborgrid/harbormaster/scope"
	"github.com/harborgrid/harbormaster/server"
	"github.com/harborgrid/harbormaster/services/echo"
	"github.com/harborgrid/harbormaster/transport"
)

var cliFlags = append([]cli.Flag{
	flags.ConfigFlag,
	flags.ListenAddrFlag,
	flags.LogServiceFlagFn(common.PackageName),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "harbormasterd",
		Usage:  "Provision and supervise network listeners",
		Flags:  cliFlags,
		Action: runDaemon,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runDaemon(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		return err
	}

	m := metrics.NewMetrics(common.PackageName)
	reg := registry.NewRegistry(logger)

	scopes := scope.NewProvider(logger)
	if err := scopes.Provide(func() *metrics.Metrics { return m }); err != nil {
		logger.Error("Failed to install shared providers", "err", err)
		return err
	}

	ks := server.NewKindSet()
	if err := echo.Register(ks); err != nil {
		logger.Error("Failed to register echo service", "err", err)
		return err
	}
	if err := transport.Register(ks); err != nil {
		logger.Error("Failed to register tcp runner", "err", err)
		return err
	}

	certStore := certs.NewStore(logger)

	sink, err := audit.Combined(cfg.Audit.Sinks, logger)
	if err != nil {
		logger.Error("Failed to create audit sinks", "err", err)
		return err
	}

	var announcer server.Announcer
	if cfg.Discovery.Enabled {
		dnsAnnouncer, err := discovery.NewAnnouncer(discovery.Config{
			Server:      cfg.Discovery.Server,
			Zone:        cfg.Discovery.Zone,
			Hostname:    cfg.Discovery.Hostname,
			TTL:         uint32(cfg.Discovery.TTLSeconds),
			TSIGKeyName: cfg.Discovery.TSIGKeyName,
			TSIGSecret:  cfg.Discovery.TSIGSecret,
			Timeout:     time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second,
			Log:         logger,
		})
		if err != nil {
			logger.Error("Failed to create DNS announcer", "err", err)
			return err
		}
		announcer = dnsAnnouncer
		logger.Info("DNS announcer enabled",
			"server", cfg.Discovery.Server, "zone", cfg.Discovery.Zone)
	}

	defaults := cfg.Defaults.Apply(interfaces.DefaultServiceOptions())

	factory, err := server.New(server.FactoryConfig{
		Registry:       reg,
		Scopes:         scopes,
		Kinds:          ks,
		Certificates:   certStore,
		Audit:          sink,
		Announcer:      announcer,
		Metrics:        m,
		DefaultOptions: &defaults,
		Log:            logger,
	})
	if err != nil {
		logger.Error("Failed to create server factory", "err", err)
		return err
	}

	srvCfg := flags.ConfigureServer(cCtx, logger, &cfg.Control)
	srvCfg.Metrics = m

	teardown := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), srvCfg.GracefulShutdownDuration)
		defer cancel()
		if err := factory.StopAll(stopCtx); err != nil {
			logger.Error("Failed to stop servers", "err", err)
		}
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close audit sink", "err", err)
		}
	}

	// Provision the servers declared in the configuration.
	bootCtx := context.Background()
	for _, declared := range cfg.Servers {
		var optOverride *interfaces.ServiceOptions
		if declared.Options != nil {
			opts := declared.Options.Apply(factory.DefaultOptions())
			optOverride = &opts
		}

		inst, err := factory.Create(bootCtx, server.CreateRequest{
			Service:     interfaces.ServiceKind(declared.Service),
			Server:      interfaces.ServerKind(declared.Server),
			Address:     declared.Address,
			Port:        declared.Port,
			Certificate: declared.Certificate,
			Encoding:    interfaces.Encoding(declared.Encoding),
			Options:     optOverride,
		})
		if err != nil {
			logger.Error("Failed to provision declared server", "err", err,
				"service", declared.Service, "port", declared.Port)
			teardown()
			return err
		}
		logger.Info("Provisioned server",
			"service", declared.Service,
			"endpoint", inst.Endpoint().String(),
			"server_id", inst.ID().String())
	}

	srv, err := httpserver.New(srvCfg, httpserver.NewHandler(factory, reg, logger))
	if err != nil {
		logger.Error("Failed to create control plane server", "err", err)
		teardown()
		return err
	}
	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Daemon is running, press Ctrl+C to stop", "servers", reg.Len())
	<-exit
	logger.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), srvCfg.GracefulShutdownDuration)
	defer cancel()
	if err := factory.StopAll(stopCtx); err != nil {
		logger.Error("Failed to stop servers", "err", err)
	}

	srv.Shutdown()

	if err := sink.Close(); err != nil {
		logger.Error("Failed to close audit sink", "err", err)
	}

	logger.Info("Daemon shutdown complete")
	return nil
}
