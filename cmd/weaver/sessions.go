package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/alvmarrod/traffic-weaver/internal/clustering"
	"github.com/alvmarrod/traffic-weaver/internal/config"
	"github.com/alvmarrod/traffic-weaver/internal/graph"
	"github.com/alvmarrod/traffic-weaver/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a stored session",
	Long: `Rebuild a stored session and print its nodes, edges and clusters.

With --regroup the stored clusters are dissolved and the cluster rules of
the current configuration are applied instead. With --export the session
is written as a network JSON file.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var (
	showRegroup bool
	showExport  string
)

func init() {
	showCmd.Flags().BoolVar(&showRegroup, "regroup", false, "Replace stored clusters with the configured cluster rules")
	showCmd.Flags().StringVar(&showExport, "export", "", "Write the session network as JSON to this path")
}

func openStore() (*storage.Storage, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize storage")
	}
	return store, cfg, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions stored")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tNODES\tEDGES\tCLUSTERS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			s.SessionID, s.StartedAt.Local().Format(time.DateTime), s.Nodes, s.Edges, s.Clusters)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.LoadSession(args[0])
	if err != nil {
		return err
	}
	if data == nil {
		return errors.WithHint(
			errors.Newf("session %q not found", args[0]),
			"run 'weaver sessions' to list stored sessions")
	}

	g, network, err := newSessionGraph(showExport != "")
	if err != nil {
		return err
	}
	if err := storage.Rebuild(data, g); err != nil {
		if !onlyObserverFailures(err) {
			return errors.Wrap(err, "failed to rebuild session")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	if showRegroup {
		engine := clustering.NewEngine(g)
		if err := engine.DeClusterAll(); err != nil {
			return errors.Wrap(err, "failed to dissolve stored clusters")
		}
		if err := engine.ApplyRules(cfg.Clusters); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}

	printSession(cmd.OutOrStdout(), data.Session, g)
	exportNetwork(network, showExport)
	return nil
}

// onlyObserverFailures reports whether every error in err came from an
// observer, leaving the graph itself complete
func onlyObserverFailures(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !graph.IsObserver(e) {
			return false
		}
	}
	return true
}

func printSession(out io.Writer, session storage.Session, g *graph.Graph) {
	fmt.Fprintf(out, "Session %s (started %s)\n\n", session.SessionID, session.StartedAt.Local().Format(time.DateTime))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tREQUESTS\tCLUSTER")
	for _, n := range g.Nodes() {
		cluster := "-"
		if c, ok := g.ClusterOf(n.Hostname()); ok {
			cluster = c.ID()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", n.Hostname(), n.Type(), n.RequestCount(), cluster)
	}
	w.Flush()
	fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EDGE\tFROM\tTO\tTYPE\tLINKS")
	for _, e := range g.Edges() {
		kind := string(e.Type())
		if e.IsClusterEdge() {
			kind += " (cluster)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", e.ID(), e.From().ID(), e.To().ID(), kind, e.LinkCount())
	}
	w.Flush()
}
