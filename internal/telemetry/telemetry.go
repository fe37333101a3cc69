/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package telemetry sends opt-in anonymous usage events and crash reports.
// Nothing is sent unless the user opted in and an endpoint is configured.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "vnforge/internal/log"
	"vnforge/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads.
//
// Environment variables (read by FromEnv):
//   - VNF_TELEMETRY_OPT_IN: "1", "true", "yes" to enable events
//   - VNF_TELEMETRY_URL: URL events are POSTed to as JSON
//   - VNF_CRASH_UPLOAD_URL: URL crash reports are POSTed to
//   - VNF_TELEMETRY_TIMEOUT_MS: request timeout, default 1500
//   - VNF_TELEMETRY_DEBUG: if set, logs send attempts
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

const defaultTimeout = 1500 * time.Millisecond

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("VNF_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("VNF_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("VNF_CRASH_UPLOAD_URL")),
		Timeout:      defaultTimeout,
		DebugLogging: os.Getenv("VNF_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("VNF_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client sends events from a background goroutine. Event never blocks: when
// the bounded queue is full the event is dropped. Send failures are dropped too.
type Client struct {
	cfg   Config
	log   *slog.Logger
	http  *http.Client
	queue chan map[string]any
	stop  chan struct{}
	once  sync.Once
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault installs a client configured from the environment unless one exists.
func InitDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
}

// NewDefault replaces the package-level client with one configured by cfg.
func NewDefault(cfg Config) {
	c := New(cfg)
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func std() *Client {
	InitDefault()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultClient
}

// New constructs a client and starts its sender.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:   cfg,
		log:   applog.WithComponent("telemetry"),
		http:  &http.Client{Timeout: cfg.Timeout},
		queue: make(chan map[string]any, 64),
		stop:  make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether events are sent at all.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether the default client sends events.
func Enabled() bool { return std().Enabled() }

// Event queues a JSON event. props must not carry personal data.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := map[string]any{}
	maps.Copy(payload, props)
	payload["name"] = name
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["version"] = version.String()
	payload["os"] = runtime.GOOS
	payload["arch"] = runtime.GOARCH
	select {
	case c.queue <- payload:
	default:
	}
}

// Event using default client.
func Event(name string, props map[string]any) { std().Event(name, props) }

// CompileStats are the anonymous facts reported after a compile. They carry
// counts only, never names or script text.
type CompileStats struct {
	Scenes   int
	Skipped  int
	Errors   int
	Warnings int
	Assets   int
	Bytes    int
	Duration time.Duration
}

// Compiled reports a "compile" event.
func (c *Client) Compiled(s CompileStats) {
	c.Event("compile", map[string]any{
		"scenes":      s.Scenes,
		"skipped":     s.Skipped,
		"errors":      s.Errors,
		"warnings":    s.Warnings,
		"assets":      s.Assets,
		"bytes":       s.Bytes,
		"duration_ms": s.Duration.Milliseconds(),
	})
}

// Compiled using default client.
func Compiled(s CompileStats) { std().Compiled(s) }

// ExportStats are the anonymous facts reported after an export.
type ExportStats struct {
	Files    int
	Bytes    int64
	PDF      bool
	Duration time.Duration
}

// Exported reports an "export" event.
func (c *Client) Exported(s ExportStats) {
	c.Event("export", map[string]any{
		"files":       s.Files,
		"bytes":       s.Bytes,
		"pdf":         s.PDF,
		"duration_ms": s.Duration.Milliseconds(),
	})
}

// Exported using default client.
func Exported(s ExportStats) { std().Exported(s) }

// Flush waits up to half a second for queued events to be picked up.
func (c *Client) Flush(ctx context.Context) {
	deadline := time.NewTimer(500 * time.Millisecond)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for len(c.queue) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// Flush using default client.
func Flush(ctx context.Context) { std().Flush(ctx) }

// Close stops the sender. Queued events that were not picked up are dropped.
func (c *Client) Close() { c.once.Do(func() { close(c.stop) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.queue:
			buf, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.post(c.cfg.EventsURL, "application/json", buf, "event")
		}
	}
}

func (c *Client) post(url, contentType string, body []byte, what string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.String("kind", what), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry sent", slog.String("kind", what), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts a crash report in the background when opted in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	go c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", append([]byte(nil), report...), "crash")
}

// UploadCrash using default client.
func UploadCrash(report []byte) { std().UploadCrash(report) }
