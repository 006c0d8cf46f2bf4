package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/medsync/internal/syncengine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// oneShotNote is shared help for commands that open the databases directly.
const oneShotNote = "Opens the state database exclusively, so it fails while `medsync run` is active.\n" +
	"Stop the agent first, or use the MCP sync tools of the running agent."

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent: initial reconciliation, periodic push, store watcher and optional MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return runDaemon(ctx, a)
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push pending local changes once and exit",
		Long:  oneShotNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.engine.PushLocalUpdatesToServer(cmd.Context(), a.cfg.OwnerID)
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, pending %d\n", report.Synced(), report.Pending())

			return report.Err()
		},
	}
}

func newPullCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Reconcile the local store with the backend once and exit",
		Long:  oneShotNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.SyncLocalDatabaseWithRemote(cmd.Context(), a.cfg.OwnerID, force); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "fully synced")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "refetch every resource even if already pulled")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pending counts and sync bookkeeping as YAML",
		Long:  oneShotNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return writeStatus(cmd.Context(), cmd.OutOrStdout(), a.engine, a.cfg.OwnerID)
		},
	}
}

type statusReport struct {
	Owner       string                    `yaml:"owner"`
	FullySynced bool                      `yaml:"fully_synced"`
	LastPush    string                    `yaml:"last_push,omitempty"`
	LastPull    string                    `yaml:"last_pull,omitempty"`
	Resources   []syncengine.PendingCount `yaml:"resources"`
}

func writeStatus(ctx context.Context, w io.Writer, eng *syncengine.Engine, ownerID string) error {
	counts, err := eng.Pending(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("counting pending rows: %w", err)
	}

	meta, err := eng.State().Meta(ownerID)
	if err != nil {
		return fmt.Errorf("reading sync meta: %w", err)
	}

	report := statusReport{
		Owner:       ownerID,
		FullySynced: meta.FullySynced,
		LastPush:    formatUnix(meta.LastPush),
		LastPull:    formatUnix(meta.LastPull),
		Resources:   counts,
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return enc.Close()
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return ""
	}

	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
