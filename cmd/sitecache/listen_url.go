package main

import (
	"net"
	"net/url"
	"strings"
)

// listenURL turns a listen address into the URL pages should use to reach
// the proxy. Wildcard hosts become localhost.
func listenURL(addr string) string {
	a := strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.Contains(a, "://") {
		return a
	}
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		host, port = a, ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	return (&url.URL{Scheme: "http", Host: host}).String()
}
