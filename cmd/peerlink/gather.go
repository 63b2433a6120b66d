package main

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/stream"
)

func newGatherCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "gather",
		Short: "List local and STUN-discovered candidate addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := a.cfg.ServerList()
			if err != nil {
				return err
			}

			g := nat.NewGatherer(servers,
				nat.WithProbeCount(a.cfg.STUNProbeCount),
				nat.WithProbeTimeout(a.cfg.STUNTimeout),
				nat.WithProbeRate(rate.Limit(a.cfg.STUNProbeRate), 1),
				nat.WithMetrics(a.metrics),
			)

			out := cmd.OutOrStdout()
			run := func(ctx context.Context) error {
				candidates := g.Gather(ctx)
				if a.cfg.STUNServersFile != "" {
					if err := servers.Save(a.cfg.STUNServersFile); err != nil {
						logrus.WithError(err).Warn("Failed to save STUN server statistics")
					}
				}
				return printCandidates(out, candidates, asJSON)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx); err != nil || !watch {
				return err
			}

			w := nat.NewInterfaceWatcher(nil, interval)
			changes, sub := stream.Chan(w.Changes(), 1)
			defer sub.Unsubscribe()
			go w.Run(ctx)

			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-changes:
					if !ok {
						return nil
					}
					logrus.WithFields(logrus.Fields{
						"function":   "gather",
						"interfaces": len(snap),
					}).Info("Network interfaces changed, gathering again")
					if err := run(ctx); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print candidates as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "gather again whenever the network interfaces change")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "interface poll interval for --watch")
	return cmd
}

func printCandidates(out io.Writer, candidates []nat.Candidate, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}
	for _, c := range candidates {
		if err := writeLine(out, c.String()); err != nil {
			return err
		}
	}
	return nil
}
