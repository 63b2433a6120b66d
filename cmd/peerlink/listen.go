package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/stream"
	"github.com/opd-ai/peerlink/transport"
)

func (a *app) manager() *transport.Manager {
	return transport.NewManager(
		transport.WithAcceptLimit(a.cfg.AcceptRate, a.cfg.AcceptBurst),
		transport.WithMetrics(a.metrics),
	)
}

func newListenCmd(a *app) *cobra.Command {
	var (
		proto   string
		port    int
		adapter string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Open a listener and print every frame it receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := a.manager()
			defer m.PurgeAll()
			stop := a.serveMetrics()
			defer stop()

			var frames stream.Observable[transport.Frame]
			switch proto {
			case "tcp":
				frames = m.ListenTCP(port, adapter)
			case "udp":
				frames = m.ListenUDP(port, adapter)
			default:
				return fmt.Errorf("unknown protocol %q", proto)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return printFrames(ctx, frames, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&proto, "proto", "tcp", "tcp or udp")
	cmd.Flags().IntVar(&port, "port", 0, "local port")
	cmd.Flags().StringVar(&adapter, "adapter", "0.0.0.0", "local adapter address")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

// printFrames writes one line per frame until ctx is done or the stream
// terminates, and returns the terminal error if any.
func printFrames(ctx context.Context, frames stream.Observable[transport.Frame], out io.Writer) error {
	var mu sync.Mutex
	done := make(chan error, 1)

	lines := stream.Pipe(frames, func(f transport.Frame) (string, error) {
		return formatFrame(f), nil
	})
	sub := lines.Subscribe(stream.Observer[string]{
		OnData: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			_ = writeLine(out, line)
		},
		OnError: func(err error) {
			select {
			case done <- err:
			default:
			}
		},
		OnComplete: func() {
			select {
			case done <- nil:
			default:
			}
		},
	})
	defer sub.Unsubscribe()

	select {
	case err := <-done:
		var le *transport.ListenError
		if errors.As(err, &le) {
			mu.Lock()
			_ = writeLine(out, formatFrame(le.Frame))
			mu.Unlock()
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func formatFrame(f transport.Frame) string {
	switch f.Kind {
	case transport.FrameData:
		return fmt.Sprintf("%s %s:%d -> %s:%d %q", f.Kind, f.SourceAddress, f.SourcePort, f.TargetAdapter, f.TargetPort, f.Payload)
	case transport.FrameError:
		return fmt.Sprintf("%s %s:%d: %v", f.Kind, f.TargetAdapter, f.TargetPort, f.Err)
	default:
		return fmt.Sprintf("%s %s:%d -> %s:%d", f.Kind, f.SourceAddress, f.SourcePort, f.TargetAdapter, f.TargetPort)
	}
}
