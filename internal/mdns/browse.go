package mdns

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Service is a bridge found on the network.
type Service struct {
	Instance string
	Host     string
	Port     int
	Channel  string
	Version  string
	Path     string
}

// URL returns the WebSocket URL of the service.
func (s Service) URL() string {
	path := s.Path
	if path == "" {
		path = WebSocketPath
	}
	return "ws://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + path
}

// Browse collects bridge advertisements until ctx is done.
func Browse(ctx context.Context) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu       sync.Mutex
		services []Service
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if svc, ok := serviceFromEntry(entry); ok {
				mu.Lock()
				services = append(services, svc)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return services, nil
}

func serviceFromEntry(entry *zeroconf.ServiceEntry) (Service, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Service{}, false
	}

	txt := parseTXT(entry.Text)
	return Service{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Channel:  txt["channel"],
		Version:  txt["version"],
		Path:     txt["path"],
	}, true
}

func parseTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		k, v, ok := strings.Cut(t, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
