// Package nat gathers the candidate addresses a peer can be reached at.
//
// Local candidates come from the host's interfaces. Public candidates come
// from STUN binding requests (RFC 5389) sent in parallel over one shared UDP
// socket per address family; the mappings the servers report are used to
// classify the NAT on a best-effort basis:
//
//	servers := nat.DefaultServerList()
//	g := nat.NewGatherer(servers, nat.WithProbeCount(4))
//	for _, c := range g.Gather(ctx) {
//	    fmt.Println(c)
//	}
//
// Gathering never fails. Probe errors are recorded per server and reflected
// in the verdict, which may be "UDP Blocked" or "Unknown".
package nat
