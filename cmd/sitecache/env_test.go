package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadEnvDefaults(t *testing.T) {
	e, err := loadEnv(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Addr != "127.0.0.1:8080" || e.HotEntries != 512 || e.ProbeInterval != 30*time.Second {
		t.Errorf("defaults = %+v", e)
	}
	if !e.Watch || !e.Metrics {
		t.Error("watch and metrics should default on")
	}
	if !strings.HasSuffix(e.DBPath, "sitecache.db") || e.keyPath() != e.DBPath+".age" {
		t.Errorf("db = %q key = %q", e.DBPath, e.keyPath())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	e, err := loadEnv(map[string]string{
		"SITECACHE_ADDR":           ":9000",
		"SITECACHE_DB":             "/tmp/x.db",
		"SITECACHE_AGE_KEY":        "/tmp/key.txt",
		"SITECACHE_PROBE_INTERVAL": "5s",
		"SITECACHE_WATCH":          "false",
		"SITECACHE_LOG_FORMAT":     "text",
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Addr != ":9000" || e.DBPath != "/tmp/x.db" || e.ProbeInterval != 5*time.Second || e.Watch {
		t.Errorf("env = %+v", e)
	}
	if e.keyPath() != "/tmp/key.txt" {
		t.Errorf("key path = %q", e.keyPath())
	}
}

func TestLoadEnvErrors(t *testing.T) {
	tests := []map[string]string{
		{"SITECACHE_PROBE_INTERVAL": "soon"},
		{"SITECACHE_HOT_ENTRIES": "many"},
		{"SITECACHE_LOG_FORMAT": "xml"},
	}
	for _, environ := range tests {
		if _, err := loadEnv(environ); err == nil {
			t.Errorf("loadEnv(%v) succeeded", environ)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "").Info("hidden")
	newLogger(&buf, "warn", "").Warn("shown", "k", "v")
	if got := buf.String(); strings.Contains(got, "hidden") || !strings.Contains(got, `"msg":"shown"`) {
		t.Errorf("json output = %q", got)
	}

	buf.Reset()
	newLogger(&buf, "debug", "text").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}

	if parseLogLevel("ERROR") != slog.LevelError || parseLogLevel("bogus") != slog.LevelInfo {
		t.Error("parseLogLevel mismatch")
	}
}
