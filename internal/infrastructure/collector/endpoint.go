package collector

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the OTLP/gRPC port.
const DefaultPort = 4317

// Endpoint is the network address of a trace collector.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port, bracketing IPv6 hosts.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}

// ParseEndpoint parses "host", "host:port", "[v6]:port" or a URL such as
// "http://host:port". A missing port becomes defaultPort.
func ParseEndpoint(raw string, defaultPort int) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("empty collector address")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid collector URL %q: %w", raw, err)
		}
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("collector URL %q has no host", raw)
		}
		raw = u.Host
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// no port, or a bare IPv6 literal
		host = strings.Trim(raw, "[]")
		portStr = ""
	}
	if host == "" || strings.ContainsAny(host, " /") {
		return Endpoint{}, fmt.Errorf("invalid collector host in %q", raw)
	}

	port := defaultPort
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid collector port in %q: %w", raw, err)
		}
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("collector port %d out of range", port)
	}

	return Endpoint{Host: host, Port: port}, nil
}
