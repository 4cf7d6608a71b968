package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if err := validateOrigin(cfg.Origin, true); err != nil {
		errs = append(errs, fmt.Sprintf("origin: %v", err))
	}
	if cfg.InstallConcurrency < 0 {
		errs = append(errs, "install_concurrency must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Precache))
	for i, p := range cfg.Precache {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Sprintf("precache[%d]: path %q must start with /", i, p))
		}
		if seen[p] {
			errs = append(errs, fmt.Sprintf("precache[%d]: duplicate path %q", i, p))
		}
		seen[p] = true
	}

	errs = append(errs, validateMarkers("rules.network_only", cfg.Rules.NetworkOnly)...)
	errs = append(errs, validateMarkers("rules.network_first", cfg.Rules.NetworkFirst)...)
	errs = append(errs, validateMarkers("rules.stale_while_revalidate", cfg.Rules.StaleWhileRevalidate)...)
	for i, ext := range cfg.Rules.StaticExtensions {
		if len(ext) < 2 || strings.ContainsAny(ext[1:], "./") {
			errs = append(errs, fmt.Sprintf("rules.static_extensions[%d]: invalid extension %q", i, ext))
		}
	}

	for i, o := range cfg.TrustedOrigins {
		if err := validateOrigin(o, false); err != nil {
			errs = append(errs, fmt.Sprintf("trusted_origins[%d]: %v", i, err))
		}
	}

	for tag, endpoint := range cfg.Sync {
		if tag == "" {
			errs = append(errs, "sync: empty tag")
		}
		if !strings.HasPrefix(endpoint, "/") {
			errs = append(errs, fmt.Sprintf("sync.%s: endpoint %q must start with /", tag, endpoint))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateMarkers(field string, markers []string) []string {
	var errs []string
	for i, m := range markers {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Sprintf("%s[%d]: empty marker", field, i))
		}
	}
	return errs
}

func validateOrigin(raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("is required")
		}
		return fmt.Errorf("empty origin")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("%q must not have a path", raw)
	}
	return nil
}
