/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic in the CLI into a crash report, an autosave of
// the open project and a non-zero exit.
package crash

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "vnforge/internal/log"
	"vnforge/internal/storage"
	"vnforge/internal/telemetry"
	"vnforge/internal/version"
)

// ExitCode is the process exit status after a recovered panic.
const ExitCode = 2

// exitFn and stderr are replaced in tests.
var (
	exitFn           = os.Exit
	stderr io.Writer = os.Stderr
)

// Recover captures a panic, logs it with its stack, writes a crash report
// and autosaves the project when ph is non-nil.
//
// Usage: defer crash.Recover(ph)
func Recover(ph *storage.ProjectHandle) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, err := writeReport(ph, r, stack)
	if err != nil {
		l.Error("crash report not written", slog.Any("err", err))
	}
	if ph != nil && ph.Project != nil {
		if path, err := storage.AutosaveCrashSnapshot(ph); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}
	}

	_, _ = fmt.Fprintf(stderr, "vnforge stopped after an internal error. A crash report was saved to: %s\n", reportPath)
	_, _ = fmt.Fprintf(stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
	exitFn(ExitCode)
}

// reportDir is the project's backups directory, or the temp dir without a project.
func reportDir(ph *storage.ProjectHandle) string {
	if ph == nil || ph.Root == "" {
		return os.TempDir()
	}
	dir := filepath.Join(ph.Root, storage.BackupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}

func formatReport(ph *storage.ProjectHandle, panicVal any, stack []byte, now time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "vnforge crash report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if ph != nil {
		fmt.Fprintf(&buf, "ProjectRoot: %s\n", ph.Root)
		fmt.Fprintf(&buf, "Manifest: %s\n", ph.ManifestPath)
		if ph.Project != nil {
			fmt.Fprintf(&buf, "Scenes: %d\n", len(ph.Project.Scenes()))
		}
	}
	fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	fmt.Fprintf(&buf, "Stack:\n%s\n", stack)
	return buf.Bytes()
}

func writeReport(ph *storage.ProjectHandle, panicVal any, stack []byte) (string, error) {
	now := time.Now()
	path := filepath.Join(reportDir(ph), fmt.Sprintf("crash-%s.log", now.Format("20060102-150405")))
	report := formatReport(ph, panicVal, stack, now)
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return path, err
	}
	// uploaded only when the user opted in
	telemetry.UploadCrash(report)
	return path, nil
}
