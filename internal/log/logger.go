/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log provides the slog-based logging used across vnforge.
// Console output is a compact one-line format; when a file is configured the
// same records are also written as JSON to a rotating log file. Compiler code
// annotates records with component, operation, scene and block attributes so
// diagnostics in the log line up with what the editor highlights.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"vnforge/internal/version"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger initialization.
// Environment variables read by FromEnv:
//   - VNF_LOG_LEVEL=debug|info|warn|error
//   - VNF_LOG_FORMAT=console|json
//   - VNF_LOG_FILE=<path> (JSON, rotated)
//   - VNF_LOG_SOURCE=true|false
type Options struct {
	Level     string
	Format    string // "console" or "json"
	AddSource bool
	File      string
}

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   *slog.Logger
)

// L returns the process logger, initializing it from the environment on first use.
func L() *slog.Logger {
	defaultLoggerMu.RLock()
	l := defaultLogger
	defaultLoggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init(FromEnv())
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// Init configures the process logger and installs it as slog.Default.
func Init(opts Options) {
	lvl := parseLevel(opts.Level)
	format := strings.ToLower(strings.TrimSpace(opts.Format))

	var console slog.Handler
	if format == "json" {
		console = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})
	} else {
		console = &prettyTextHandler{opts: prettyOpts{Level: lvl, AddSource: opts.AddSource}, w: os.Stderr, mu: &sync.Mutex{}}
	}
	handlers := []slog.Handler{withProjectContext(console)}

	if f := strings.TrimSpace(opts.File); f != "" {
		w := &lj.Logger{Filename: f, MaxSize: 10, MaxBackups: 3, MaxAge: 28, Compress: true}
		fh := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})
		handlers = append(handlers, withProjectContext(fh))
	}

	h := handlers[0]
	if len(handlers) > 1 {
		h = fanout(handlers...)
	}
	logger := slog.New(h).With(
		slog.String("app", "vnforge"),
		slog.String("ver", version.String()),
	)

	defaultLoggerMu.Lock()
	defaultLogger = logger
	defaultLoggerMu.Unlock()
	slog.SetDefault(logger)
}

// FromEnv builds Options from VNF_LOG_* variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("VNF_LOG_LEVEL", "info"),
		Format:    getenv("VNF_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("VNF_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("VNF_LOG_FILE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WithComponent returns a logger with the component attribute pre-set.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation annotates the logger with an operation name.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// WithScene annotates the logger with the scene being compiled.
func WithScene(l *slog.Logger, sceneID string) *slog.Logger {
	return l.With(slog.String("scene", sceneID))
}

type projectKey struct{}

// ContextWithProject stores the project root so every record logged with the
// returned context carries a project attribute.
func ContextWithProject(ctx context.Context, root string) context.Context {
	return context.WithValue(ctx, projectKey{}, root)
}

// ProjectFromContext returns the project root stored by ContextWithProject.
func ProjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(projectKey{}).(string)
	return s, ok && s != ""
}

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
