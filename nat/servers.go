package nat

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Server describes one STUN server and what past probes observed of it.
// LastLatency is zero when the server has never answered.
type Server struct {
	URL         string        `yaml:"url" json:"url"`
	LastSuccess time.Time     `yaml:"last_success,omitempty" json:"last_success,omitempty"`
	LastLatency time.Duration `yaml:"last_latency,omitempty" json:"last_latency,omitempty"`
	Tests       int           `yaml:"tests,omitempty" json:"tests,omitempty"`
	Failures    int           `yaml:"failures,omitempty" json:"failures,omitempty"`
}

type serverFile struct {
	Servers []Server `yaml:"servers"`
}

// ServerList is the mutable set of STUN servers a Gatherer probes. Probe
// outcomes are recorded back into it so later gathers prefer fast servers.
type ServerList struct {
	mu      sync.Mutex
	servers []Server
	now     func() time.Time
}

// NewServerList creates a list of never-probed servers.
func NewServerList(urls ...string) *ServerList {
	l := &ServerList{now: time.Now}
	for _, u := range urls {
		l.servers = append(l.servers, Server{URL: u})
	}
	return l
}

// DefaultServerList returns a small set of public STUN servers.
func DefaultServerList() *ServerList {
	return NewServerList(
		"stun.l.google.com:19302",
		"stun1.l.google.com:19302",
		"stun2.l.google.com:19302",
		"stun.cloudflare.com:3478",
		"stun.antisip.com:3478",
		"stun.stunprotocol.org:3478",
	)
}

// LoadServerList reads a YAML server list written by Save.
func LoadServerList(path string) (*ServerList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server list: %w", err)
	}

	var f serverFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse server list %s: %w", path, err)
	}

	l := &ServerList{now: time.Now}
	for _, s := range f.Servers {
		if s.URL == "" {
			continue
		}
		l.servers = append(l.servers, s)
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadServerList",
		"path":     path,
		"servers":  len(l.servers),
	}).Debug("Loaded STUN server list")
	return l, nil
}

// Save writes the list to path atomically.
func (l *ServerList) Save(path string) error {
	data, err := yaml.Marshal(serverFile{Servers: l.Servers()})
	if err != nil {
		return fmt.Errorf("failed to encode server list: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Servers returns a copy of the list.
func (l *ServerList) Servers() []Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.servers)
}

// Len returns the number of servers.
func (l *ServerList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.servers)
}

// Rank returns up to n servers ordered by ascending last latency. Servers
// with unknown latency sort last, and ties keep list order. n <= 0 returns
// every server.
func (l *ServerList) Rank(n int) []Server {
	ranked := l.Servers()
	slices.SortStableFunc(ranked, func(a, b Server) int {
		switch {
		case a.LastLatency == b.LastLatency:
			return 0
		case a.LastLatency == 0:
			return 1
		case b.LastLatency == 0:
			return -1
		case a.LastLatency < b.LastLatency:
			return -1
		default:
			return 1
		}
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Record stores the outcome of one probe of url. Unknown URLs are ignored.
func (l *ServerList) Record(url string, latency time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.servers {
		s := &l.servers[i]
		if s.URL != url {
			continue
		}
		s.Tests++
		if err != nil {
			s.Failures++
			return
		}
		if latency <= 0 {
			latency = time.Nanosecond
		}
		s.LastSuccess = l.now()
		s.LastLatency = latency
		return
	}
}
