// Command peerlink exercises the peerlink libraries from the shell: it
// manages the local identity, gathers NAT candidates, opens listeners,
// force-connects to peers and encrypts for them.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
