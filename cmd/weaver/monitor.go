package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/traffic-weaver/internal/clustering"
	"github.com/alvmarrod/traffic-weaver/internal/config"
	"github.com/alvmarrod/traffic-weaver/internal/graph"
	"github.com/alvmarrod/traffic-weaver/internal/ingest"
	"github.com/alvmarrod/traffic-weaver/internal/metrics"
	"github.com/alvmarrod/traffic-weaver/internal/monitor"
	"github.com/alvmarrod/traffic-weaver/internal/storage"
	"github.com/alvmarrod/traffic-weaver/internal/version"
	"github.com/alvmarrod/traffic-weaver/internal/visual"
)

const progressInterval = 10 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Load the configured seeds and record their traffic",
	Long: `Load every seed URL, follow cross-domain links up to max_depth and record
the requests, redirects and referrals as a domain graph. On completion or
interrupt the configured cluster rules are applied, the session is stored
and metrics are written.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logrus.Infof("Traffic Weaver v%s starting...", version.Version)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	logrus.Infof("Configuration loaded: %d seeds, depth=%d, interactive=%t",
		len(cfg.SeedURLs), cfg.MaxDepth, cfg.Interactive)

	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "failed to initialize storage")
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	sessionID, err := store.CreateSession()
	if err != nil {
		return err
	}
	logrus.Infof("Session %s started", sessionID)

	g, network, err := newSessionGraph(cfg.Interactive)
	if err != nil {
		return err
	}

	tracker := metrics.NewTracker()
	g.Register(tracker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopProgress := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	m := monitor.New(monitor.OptionsFromConfig(cfg), ingest.NewHandler(g), tracker.RecordPage)
	runErr := m.Run(ctx, cfg.SeedURLs)
	close(stopProgress)

	terminationReason := "completed"
	switch {
	case errors.Is(runErr, context.Canceled):
		terminationReason = "signal"
		logrus.Info("Interrupted, saving what was recorded so far")
	case runErr != nil:
		terminationReason = "error"
		logrus.Errorf("Monitoring failed: %v", runErr)
	}

	logrus.Info("Step 1/4: Applying cluster rules...")
	engine := clustering.NewEngine(g)
	if err := engine.ApplyRules(cfg.Clusters); err != nil {
		logrus.Warnf("Some cluster rules were not applied: %v", err)
	}
	tracker.SetClusters(len(engine.GetClusters()))

	logrus.Info("Step 2/4: Storing session...")
	if err := store.Flush(sessionID, g); err != nil {
		logrus.Errorf("Failed to store session: %v", err)
	} else {
		logrus.Infof("Session %s stored: %d nodes, %d edges", sessionID, g.NodeCount(), len(g.DirectEdges()))
	}

	logrus.Info("Step 3/4: Writing final metrics...")
	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	logrus.Info("Step 4/4: Exporting network...")
	exportNetwork(network, cfg.ExportPath)

	if terminationReason == "error" {
		return runErr
	}
	logrus.Info("Done. Goodbye!")
	return nil
}

// newSessionGraph builds a headless graph, or an interactive one drawn by a
// network view
func newSessionGraph(interactive bool) (*graph.Graph, *visual.Network, error) {
	if !interactive {
		return graph.New(), nil, nil
	}
	network := visual.NewNetwork()
	g, err := graph.NewInteractive(network)
	if err != nil {
		return nil, nil, err
	}
	return g, network, nil
}

func exportNetwork(network *visual.Network, path string) {
	switch {
	case path == "":
		logrus.Debug("No export_path configured, skipping network export")
	case network == nil:
		logrus.Warn("export_path is set but the session is headless, set interactive to export the network")
	default:
		if err := network.WriteJSON(path); err != nil {
			logrus.Errorf("Failed to export network: %v", err)
		}
	}
}
