package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestImportScript(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "legacy-sw.js"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ImportScript(src, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := &Script{
		CacheName:            "valhalla-tattoo-v0.9.0",
		Version:              "0.9.0",
		Precache:             []string{"/", "/index.html", "/assets/css/main.css", "/js/main.js", "/images/logo.jpg"},
		NetworkOnly:          []string{"/analytics", "/admin"},
		NetworkFirst:         []string{"/api/", "/contact"},
		StaleWhileRevalidate: []string{"/images/portfolio/"},
		TrustedOrigins:       []string{"https://fonts.googleapis.com", "https://fonts.gstatic.com"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("script mismatch (-want +got):\n%s", diff)
	}

	cfg, err := FromScript(got)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want.TrustedOrigins, cfg.TrustedOrigins); diff != "" {
		t.Errorf("trusted origins mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Rules.StaticExtensions) == 0 {
		t.Error("static extensions lost their default")
	}
}

func TestImportScriptTrustedTable(t *testing.T) {
	src := []byte(`
const CACHE_VERSION = '4';
const TRUSTED_ORIGINS = ['https://unpkg.com'];
`)
	got, err := ImportScript(src, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"https://unpkg.com"}, got.TrustedOrigins); diff != "" {
		t.Errorf("trusted origins mismatch (-want +got):\n%s", diff)
	}
}

func TestImportScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "const CACHE_NAME = ;"},
		{"throws", "throw new Error('boom');"},
		{"empty", "var x = 1;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportScript([]byte(tt.src), ImportOptions{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestImportScriptTimeout(t *testing.T) {
	start := time.Now()
	_, err := ImportScript([]byte("while (true) {}"), ImportOptions{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrScriptTimeout) {
		t.Fatalf("err = %v, want ErrScriptTimeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not enforced promptly")
	}
}
