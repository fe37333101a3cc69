/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"vnforge/internal/config"
	"vnforge/internal/crash"
	applog "vnforge/internal/log"
	"vnforge/internal/storage"
	"vnforge/internal/telemetry"
	"vnforge/internal/version"
)

// errUsage marks bad invocations; run exits with 2 for them.
var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintln(w, "vnforge - block graph to Ren'Py script compiler")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  vnforge version|-v|--version                  Show version")
	fmt.Fprintln(w, "  vnforge init <dir> <name>                      Create a new project at <dir>")
	fmt.Fprintln(w, "  vnforge compile <dir> [--out f] [--target d]   Compile and record the build")
	fmt.Fprintln(w, "  vnforge check <dir> [--json]                   Report diagnostics; exit 1 on errors")
	fmt.Fprintln(w, "  vnforge export <dir> <target> [--preset p] [--pdf]")
	fmt.Fprintln(w, "                                                 Write game/script.rpy and copy assets")
	fmt.Fprintln(w, "  vnforge import <dir> <draft.txt>               Append scenes from a plain-text draft")
	fmt.Fprintln(w, "  vnforge set <dir> <scene> <block> key=value... Edit block parameters")
	fmt.Fprintln(w, "  vnforge search <dir> <text> [--scene s] [--speaker s] [--type t]")
	fmt.Fprintln(w, "  vnforge where-used <dir> <label>               List jumps, calls and menus reaching a label")
	fmt.Fprintln(w, "  vnforge reindex <dir>                          Rebuild the search index")
	fmt.Fprintln(w, "  vnforge history <dir> [--limit n] [--prune n]  List recorded builds")
	fmt.Fprintln(w, "  vnforge publish <dir>                          Publish the latest build to the archive")
	fmt.Fprintln(w, "  vnforge archive-login | archive-logout         Store or forget the archive password")
	fmt.Fprintln(w, "  vnforge config                                 Show config path and env overrides")
}

// app carries what every command needs. ph is filled in place once a
// project is open so the crash handler can autosave it.
type app struct {
	cfg      config.AppConfig
	password string
	out      io.Writer
	errOut   io.Writer
	in       io.Reader
	ph       *storage.ProjectHandle
	log      *slog.Logger
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ph := &storage.ProjectHandle{}
	defer crash.Recover(ph)

	cfg, pw, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Warning: config not loaded:", err)
	}
	applog.Init(cfg.LogOptions())
	tc := telemetry.FromEnv()
	tc.OptIn = cfg.General.TelemetryOptIn
	if cfg.General.TelemetryURL != "" {
		tc.EventsURL = cfg.General.TelemetryURL
	}
	telemetry.NewDefault(tc)
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		telemetry.Flush(fctx)
	}()

	a := &app{cfg: cfg, password: pw, out: stdout, errOut: stderr, in: stdin, ph: ph, log: applog.WithComponent("cli")}
	a.log.Debug("start", slog.Int("args", len(args)))
	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	cmd, rest := args[0], args[1:]
	var cerr error
	switch cmd {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, "vnforge", version.String())
		return 0
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	case "init":
		cerr = a.cmdInit(rest)
	case "compile":
		cerr = a.cmdCompile(ctx, rest)
	case "check":
		cerr = a.cmdCheck(rest)
	case "export":
		cerr = a.cmdExport(ctx, rest)
	case "import":
		cerr = a.cmdImport(rest)
	case "set":
		cerr = a.cmdSet(ctx, rest)
	case "search":
		cerr = a.cmdSearch(ctx, rest)
	case "where-used":
		cerr = a.cmdWhereUsed(ctx, rest)
	case "reindex":
		cerr = a.cmdReindex(ctx, rest)
	case "history":
		cerr = a.cmdHistory(ctx, rest)
	case "publish":
		cerr = a.cmdPublish(ctx, rest)
	case "archive-login":
		cerr = a.cmdArchiveLogin()
	case "archive-logout":
		cerr = config.ForgetArchivePassword()
	case "config":
		cerr = a.cmdConfig()
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	var fail exitError
	switch {
	case cerr == nil:
		return 0
	case errors.Is(cerr, errUsage):
		fmt.Fprintln(stderr, cerr)
		usage(stderr)
		return 2
	case errors.As(cerr, &fail):
		return int(fail)
	default:
		a.log.Error(cmd+" failed", slog.Any("err", cerr))
		fmt.Fprintln(stderr, "Error:", cerr)
		return 1
	}
}

// exitError ends a command with a status and no further message.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// parseInterleaved lets flags follow positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func newFlags(name string, w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	return fs
}
