package ldap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// srvResolver is the part of *net.Resolver used for discovery.
type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery handles DNS SRV record discovery for domain controllers.
type SRVDiscovery struct {
	logger   hclog.Logger
	resolver srvResolver
}

// NewSRVDiscovery creates a new SRV discovery instance.
func NewSRVDiscovery(logger hclog.Logger) *SRVDiscovery {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SRVDiscovery{
		logger:   logger,
		resolver: net.DefaultResolver,
	}
}

// DiscoverServers discovers LDAP servers for a domain using SRV records.
// LDAPS records are preferred; plain LDAP records follow. When nothing is
// published the domain name itself is tried on the standard ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	start := time.Now()

	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	var allServers []*ServerInfo

	srvRecords := []struct {
		service string
		useTLS  bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
	}

	for _, record := range srvRecords {
		servers, err := d.lookupSRV(ctx, record.service, record.useTLS)
		if err != nil {
			d.logger.Debug("SRV lookup failed, continuing to next service", "service", record.service, "error", err)
			continue
		}
		allServers = append(allServers, servers...)

		// If we found LDAPS servers, prefer them and don't look further
		if record.useTLS && len(servers) > 0 {
			break
		}
	}

	if len(allServers) == 0 {
		d.logger.Debug("no SRV records found, using fallback servers", "domain", domain)
		return d.createFallbackServers(domain), nil
	}

	sortServersByPriority(allServers)

	d.logger.Debug("server discovery completed",
		"domain", domain,
		"duration", time.Since(start).String(),
		"server_count", len(allServers),
	)
	return allServers, nil
}

// lookupSRV performs SRV record lookup for a specific service.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, srvRecords, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}
	if len(srvRecords) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(srvRecords))
	for _, srv := range srvRecords {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

// createFallbackServers creates fallback servers when SRV discovery fails.
func (d *SRVDiscovery) createFallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority sorts servers by priority and weight according to RFC 2782.
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}
	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}
	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}
	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}
	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// ParseHost turns one configured host into ServerInfo. It accepts
// ldap:// and ldaps:// URLs, host:port and bare host names. The URL scheme
// wins over enc; port applies when the host carries none, and 0 selects
// the default for the resulting transport.
func ParseHost(raw string, port int, enc Encryption) (*ServerInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}

	useTLS := enc == EncryptionLDAPS
	hostport := raw

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LDAP URL %q: %w", raw, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "ldaps":
			useTLS = true
		case "ldap":
			useTLS = false
		default:
			return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
		}
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port present
		host = strings.Trim(hostport, "[]")
		portStr = ""
	}

	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", portStr)
		}
	}
	if port == 0 {
		port = 389
		if useTLS {
			port = 636
		}
	}

	server := &ServerInfo{
		Host:     host,
		Port:     port,
		UseTLS:   useTLS,
		Priority: 0,
		Weight:   100,
		Source:   "config",
	}
	return server, ValidateServerInfo(server)
}
