package main

import (
	"bufio"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newConnectCmd(a *app) *cobra.Command {
	var (
		port    int
		adapter string
		to      string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Force a p2p connection from a local port and forward stdin lines to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, portStr, err := net.SplitHostPort(to)
			if err != nil {
				return fmt.Errorf("bad --to %q: %w", to, err)
			}
			destPort, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("bad --to port %q: %w", portStr, err)
			}

			m := a.manager()
			defer m.PurgeAll()

			frames, err := m.ForceConnect(port, adapter, host, destPort)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					line := append(append([]byte(nil), scanner.Bytes()...), '\n')
					if _, err := m.SendTCP(port, adapter, host, destPort, line); err != nil {
						logrus.WithError(err).Warn("Send failed")
					}
				}
			}()

			return printFrames(ctx, frames, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "local port to connect from")
	cmd.Flags().StringVar(&adapter, "adapter", "0.0.0.0", "local adapter address")
	cmd.Flags().StringVar(&to, "to", "", "remote endpoint as ip:port")
	_ = cmd.MarkFlagRequired("port")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
