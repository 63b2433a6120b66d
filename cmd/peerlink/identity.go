package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIdentityCmd(a *app) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the local public keys, creating the identity if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.entity()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "location:   %s\n", e.Location())
			fmt.Fprintf(out, "signature:  %s\n", e.SignaturePublicKey())
			fmt.Fprintf(out, "encryption: %s\n", e.EncryptionPublicKey())

			if purge {
				if err := e.Purge(); err != nil {
					return fmt.Errorf("purge identity: %w", err)
				}
				fmt.Fprintln(out, "purged persisted keys")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "delete the persisted key files afterwards")
	return cmd
}
