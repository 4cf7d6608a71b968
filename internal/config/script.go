package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/valhallatattoo/sitecache/internal/routing"
)

// ErrScriptTimeout is returned when a worker script runs too long.
var ErrScriptTimeout = errors.New("worker script timed out")

// Script holds the settings found in a legacy service-worker script.
type Script struct {
	CacheName            string   `json:"cacheName"`
	Version              string   `json:"version"`
	Precache             []string `json:"precache"`
	NetworkOnly          []string `json:"networkOnly"`
	NetworkFirst         []string `json:"networkFirst"`
	StaleWhileRevalidate []string `json:"staleWhileRevalidate"`
	TrustedOrigins       []string `json:"trustedOrigins"`
}

// ImportOptions tune ImportScript.
type ImportOptions struct {
	// Origin is exposed to the script as self.location.origin.
	Origin string
	// Timeout bounds script evaluation. Defaults to two seconds.
	Timeout time.Duration
	// Candidates are probed against an isTrustedOrigin function when the
	// script has no TRUSTED_ORIGINS table. Defaults to the built-in list.
	Candidates []string
}

// prelude stubs the worker globals a script touches at load time.
const prelude = `
var __noop = function () {};
var __resolved = { then: function () { return __resolved; }, catch: function () { return __resolved; } };
var __promise = function () { return __resolved; };
var console = { log: __noop, info: __noop, warn: __noop, error: __noop, debug: __noop };
var location = { origin: __origin };
var caches = { open: __promise, keys: __promise, match: __promise, delete: __promise };
var fetch = __promise;
var self = {
  location: location,
  addEventListener: __noop,
  skipWaiting: __promise,
  clients: { claim: __promise, matchAll: __promise, openWindow: __promise },
  registration: { showNotification: __promise, sync: { register: __promise } }
};
`

const extract = `
(function () {
  function list(v) { return Array.isArray(v) ? v.map(String) : []; }
  var trusted = [];
  if (typeof TRUSTED_ORIGINS !== 'undefined') {
    trusted = list(TRUSTED_ORIGINS);
  } else if (typeof isTrustedOrigin === 'function') {
    trusted = JSON.parse(__candidates).filter(function (o) {
      try { return !!isTrustedOrigin(o); } catch (e) { return false; }
    });
  }
  return JSON.stringify({
    cacheName: typeof CACHE_NAME === 'string' ? CACHE_NAME : '',
    version: typeof CACHE_VERSION === 'string' ? CACHE_VERSION : '',
    precache: typeof STATIC_CACHE_RESOURCES !== 'undefined' ? list(STATIC_CACHE_RESOURCES) : [],
    networkOnly: typeof NETWORK_ONLY_RESOURCES !== 'undefined' ? list(NETWORK_ONLY_RESOURCES) : [],
    networkFirst: typeof NETWORK_FIRST_RESOURCES !== 'undefined' ? list(NETWORK_FIRST_RESOURCES) : [],
    staleWhileRevalidate: typeof STALE_WHILE_REVALIDATE_RESOURCES !== 'undefined' ? list(STALE_WHILE_REVALIDATE_RESOURCES) : [],
    trustedOrigins: trusted
  });
})()
`

// ImportScript evaluates a legacy service-worker script in a sandboxed
// VM and extracts its cache name, version, precache manifest and rule
// tables. Only the top level of the script runs; event listeners are
// never called.
func ImportScript(src []byte, opts ImportOptions) (*Script, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Origin == "" {
		opts.Origin = DefaultOrigin
	}
	if opts.Candidates == nil {
		opts.Candidates = routing.DefaultRules().TrustedOrigins
	}

	vm := goja.New()
	if err := vm.Set("__origin", opts.Origin); err != nil {
		return nil, fmt.Errorf("prepare sandbox: %w", err)
	}
	candidates, err := json.Marshal(opts.Candidates)
	if err != nil {
		return nil, fmt.Errorf("prepare sandbox: %w", err)
	}
	if err := vm.Set("__candidates", string(candidates)); err != nil {
		return nil, fmt.Errorf("prepare sandbox: %w", err)
	}
	if _, err := vm.RunString(prelude); err != nil {
		return nil, fmt.Errorf("prepare sandbox: %w", err)
	}

	timer := time.AfterFunc(opts.Timeout, func() {
		vm.Interrupt(ErrScriptTimeout)
	})
	defer timer.Stop()

	if _, err := vm.RunScript("sw.js", string(src)); err != nil {
		return nil, scriptError("evaluate worker script", err)
	}
	v, err := vm.RunString(extract)
	if err != nil {
		return nil, scriptError("extract settings", err)
	}

	var s Script
	if err := json.Unmarshal([]byte(v.String()), &s); err != nil {
		return nil, fmt.Errorf("decode extracted settings: %w", err)
	}
	if s.CacheName == "" && s.Version == "" && len(s.Precache) == 0 {
		return nil, errors.New("worker script defines no cache settings")
	}
	return &s, nil
}

func scriptError(op string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%s: %w", op, ErrScriptTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
