package routing

import "fmt"

// Strategy is the caching policy applied to a request.
type Strategy string

const (
	NetworkOnly          Strategy = "network-only"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	CacheFirst           Strategy = "cache-first"
	CacheOnly            Strategy = "cache-only"
)

// Strategies lists every strategy in precedence order. CacheOnly is
// never chosen by Classify.
var Strategies = []Strategy{NetworkOnly, NetworkFirst, StaleWhileRevalidate, CacheFirst, CacheOnly}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

func (s Strategy) String() string { return string(s) }
