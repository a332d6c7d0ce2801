package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/traffic-weaver/internal/version"
)

var (
	configPath string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:     "weaver",
	Short:   "Traffic Weaver - map the domains a browsing session talks to",
	Version: version.Version,
	Long: `Traffic Weaver loads pages, records the HTTP traffic they cause and builds
a graph of the domains involved: which hosts served documents, which hosts
served embedded resources, and which hosts redirected or referred to others.

Examples:
  weaver monitor                   # Monitor the seeds in ./config.json
  weaver monitor -c site.json -v   # Custom config, debug logging
  weaver sessions                  # List stored sessions
  weaver show <session-id>         # Print a stored session`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the JSON configuration file")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase output verbosity (-v debug, -vv trace)")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
}

func setupLogging(level int) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	switch {
	case level >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case level == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
