package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/crypto"
)

type cryptFlags struct {
	peer  string
	usage string
}

func (f *cryptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.peer, "peer", "", "remote encryption public key (base64 DER)")
	cmd.Flags().StringVar(&f.usage, "usage", "", "usage label the key is derived for")
	_ = cmd.MarkFlagRequired("peer")
	_ = cmd.MarkFlagRequired("usage")
}

func newEncryptCmd(a *app) *cobra.Command {
	var f cryptFlags
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin for a peer and print base64",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.entity()
			if err != nil {
				return err
			}
			plain, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			sealed, err := e.EncryptString(string(plain), f.usage, f.peer)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), sealed)
		},
	}
	f.register(cmd)
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var f cryptFlags
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt base64 from stdin sent by a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.entity()
			if err != nil {
				return err
			}
			sealed, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			plain, err := e.DecryptString(strings.TrimSpace(string(sealed)), f.usage, f.peer, crypto.FailureError)
			if err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), plain)
			return err
		},
	}
	f.register(cmd)
	return cmd
}
