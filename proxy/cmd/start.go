package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/julienstroheker/mavrelay/internal/azure"
	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/httpclient"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/proxy/admin"
	"github.com/julienstroheker/mavrelay/proxy/relay"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	managementTimeout      = 30 * time.Second
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start relaying between the configured connections",
	Long: `Start relaying between the configured connections.

Connections are given as scheme:target:port_or_baud, for example
  udpin:0.0.0.0:14550      udpout:192.168.1.10:14550
  tcpin:0.0.0.0:5760       tcpout:10.0.0.5:5760
  serial:/dev/ttyUSB0:57600
  wsin:0.0.0.0:8080        wsout:gcs.local:8080
  quicin:0.0.0.0:14560     quicout:vehicle.local:14560
  hcin:mynamespace:vehicle hcout:mynamespace:vehicle
  file:/path/to/capture.bin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)

	d := config.Default()
	f := startCmd.Flags()
	f.StringArrayP(config.KeyConnect, "c", d.Connect, "Connection address, repeat for each endpoint")
	f.BoolP(config.KeyVerbose, "v", false, "Log every received and forwarded frame")
	f.String(config.KeyMAVLinkVersion, d.MAVLinkVersion, "MAVLink version accepted on receive (1, 2, any)")
	f.String(config.KeyRouter, d.Router.String(), "Router design (sync, queue)")
	f.Int(config.KeyDispatchers, d.Dispatchers, "Dispatcher goroutines for the queue router, each endpoint's frames stay on one of them")
	f.Int(config.KeyQueueLimit, d.QueueLimit, "Queue router limit, oldest frames are dropped beyond it (0 = unbounded)")
	f.Duration(config.KeyBackoff, d.Backoff, "Pause after a receive poll that returned nothing")
	f.Duration(config.KeyBackoffMax, d.BackoffMax, "Grow the pause exponentially up to this value (0 = constant)")
	f.Duration(config.KeyPollTimeout, d.PollTimeout, "Maximum wait of a single receive poll")
	f.Duration(config.KeySendTimeout, d.SendTimeout, "Write deadline per frame and destination (negative disables)")
	f.Bool(config.KeyReconnect, false, "Redial client connections after a link failure")
	f.Bool(config.KeyKeepFailedDestinations, false, "Keep sending to endpoints that stopped receiving")
	f.Duration(config.KeyStatsInterval, d.StatsInterval, "Interval of the traffic summary log (0 = off)")
	f.String(config.KeyAdminAddr, d.AdminAddr, "Admin HTTP listen address for /healthz, /endpoints and /metrics (empty = off)")
}

func runStart(cmd *cobra.Command) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := GetLogger()

	if cfg.Verbose {
		for i, addr := range cfg.Connect {
			log.Info("Connection configured", logging.String("address", addr), logging.Int("index", i))
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	azureOpts, err := azureOptions(cfg, log)
	if err != nil {
		return err
	}

	set, err := endpoint.Open(ctx, cfg.Connect, &endpoint.Options{
		Version:     cfg.Version(),
		PollTimeout: cfg.PollTimeout,
		SendTimeout: cfg.SendTimeout,
		Reconnect:   cfg.Reconnect,
		Azure:       azureOpts,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to open endpoints: %w", err)
	}
	defer func() {
		if err := set.Close(); err != nil {
			log.Warn("Failed to close endpoints", logging.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics()
	registry.MustRegister(metrics.PrometheusCollectors()...)

	r, err := relay.New(relay.Peers(set), &relay.Options{
		Router:      cfg.Router,
		Dispatchers: cfg.Dispatchers,
		QueueLimit:  cfg.QueueLimit,
		Policy: relay.ErrorPolicy{
			Backoff:    cfg.Backoff,
			BackoffMax: cfg.BackoffMax,
		},
		KeepFailedDestinations: cfg.KeepFailedDestinations,
		Verbose:                cfg.Verbose,
		StatsInterval:          cfg.StatsInterval,
		Metrics:                metrics,
		Logger:                 log,
	})
	if err != nil {
		return err
	}

	// Channel to listen for errors coming from the admin listener.
	serverErrors := make(chan error, 1)
	var server *admin.Server
	if cfg.AdminAddr != "" {
		server, err = admin.NewServer(&admin.Options{
			Addr:     cfg.AdminAddr,
			Status:   r,
			Registry: registry,
			Logger:   log.Named("admin"),
		})
		if err != nil {
			return fmt.Errorf("failed to create admin server: %w", err)
		}
		go func() {
			serverErrors <- server.ListenAndServe()
		}()
	}

	relayDone := make(chan error, 1)
	go func() {
		relayDone <- r.Run(ctx)
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case runErr = <-relayDone:

	case err := <-serverErrors:
		cancel()
		<-relayDone
		if err != nil {
			runErr = fmt.Errorf("admin server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("Received signal, shutting down", logging.String("signal", sig.String()))
		cancel()
		runErr = <-relayDone

	case <-ctx.Done():
		runErr = <-relayDone
	}

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			log.Warn("Could not gracefully shut down admin server", logging.Error(err))
		}
	}

	return runErr
}

// azureOptions builds credentials for hc* endpoints. It returns nil when
// no endpoint needs Azure Relay.
func azureOptions(c *config.Config, log *logging.Logger) (*endpoint.AzureOptions, error) {
	if !needsAzure(c.Connect) {
		return nil, nil
	}

	opts := &endpoint.AzureOptions{}
	if c.Azure.UsesSAS() {
		opts.Tokens = &azure.SASTokenSource{KeyName: c.Azure.SASKeyName, Key: c.Azure.SASKey}
	} else {
		tokens, err := azure.NewAADTokenSource(nil)
		if err != nil {
			return nil, err
		}
		opts.Tokens = tokens
	}

	if c.Azure.EnsureHybridConnections {
		manager, err := azure.NewManager(&azure.ManagerOptions{
			SubscriptionID:    c.Azure.SubscriptionID,
			ResourceGroupName: c.Azure.ResourceGroup,
			Transport: httpclient.NewClient(&httpclient.Options{
				Timeout:   managementTimeout,
				Logger:    log.Named("arm"),
				UserAgent: "mavrelay/" + buildVersion(),
			}),
		})
		if err != nil {
			return nil, err
		}
		opts.Ensurer = manager
	}
	return opts, nil
}

func needsAzure(addrs []string) bool {
	for _, raw := range addrs {
		if addr, err := endpoint.ParseAddress(raw); err == nil && addr.Hybrid() {
			return true
		}
	}
	return false
}
