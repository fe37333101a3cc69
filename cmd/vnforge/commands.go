/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"vnforge/internal/archive"
	"vnforge/internal/compiler"
	"vnforge/internal/config"
	"vnforge/internal/diag"
	"vnforge/internal/export"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
	"vnforge/internal/script"
	"vnforge/internal/storage"
	"vnforge/internal/telemetry"
	"vnforge/internal/version"
	"vnforge/internal/workspace"
)

// open loads the project at dir into a.ph and reports what was dropped while loading.
func (a *app) open(dir string) (*storage.ProjectHandle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	h, err := storage.Open(abs)
	if err != nil {
		return nil, err
	}
	*a.ph = *h
	if h.FromBackup != "" {
		fmt.Fprintf(a.errOut, "Warning: project.json unreadable, loaded backup %s\n", h.FromBackup)
	}
	for _, d := range h.Diagnostics {
		fmt.Fprintln(a.errOut, d.String())
	}
	return a.ph, nil
}

func (a *app) compilerOptions(target string) (compiler.Options, error) {
	opts := compiler.Options{
		TargetRoot:    target,
		DispatchLabel: a.cfg.Compiler.DispatchLabel,
		Indent:        a.cfg.Compiler.Indent,
		OmitHeader:    a.cfg.Compiler.OmitHeader,
		Generator:     "vnforge " + version.String(),
	}
	if f := a.cfg.Compiler.KindsFile; f != "" {
		cat, err := schema.LoadFile(f)
		if err != nil {
			return opts, err
		}
		opts.Catalog = cat
	}
	return opts, nil
}

func (a *app) compile(ph *storage.ProjectHandle, target string) (*compiler.Result, error) {
	opts, err := a.compilerOptions(target)
	if err != nil {
		return nil, err
	}
	res := compiler.Compile(ph.Project, opts)
	errs, warns := res.Counts()
	skipped := 0
	for _, s := range res.Scenes {
		if !s.Emitted {
			skipped++
		}
	}
	telemetry.Compiled(telemetry.CompileStats{
		Scenes:   len(res.Scenes),
		Skipped:  skipped,
		Errors:   errs,
		Warnings: warns,
		Assets:   len(res.Assets),
		Bytes:    len(res.Script),
		Duration: res.Duration,
	})
	return res, nil
}

// record refreshes the search index and appends res to the build history.
// Index failures are reported but do not fail the command.
func (a *app) record(ctx context.Context, ph *storage.ProjectHandle, res *compiler.Result) {
	if _, err := storage.DetectAndRebuildIndex(ctx, ph.Root, ph.Project); err != nil {
		a.log.Warn("index check failed", "err", err)
	}
	if err := storage.UpdateIndex(ctx, ph.Root, ph.Project); err != nil {
		a.log.Warn("index update failed", "err", err)
		return
	}
	id, err := storage.RecordBuild(ctx, ph, storage.BuildFromResult(res, time.Now()))
	if err != nil {
		a.log.Warn("build not recorded", "err", err)
		return
	}
	a.log.Debug("build recorded", "build", id)
}

func (a *app) printDiagnostics(ds diag.List) {
	for _, d := range ds {
		fmt.Fprintln(a.errOut, d.String())
	}
}

func (a *app) summary(res *compiler.Result) {
	errs, warns := res.Counts()
	fmt.Fprintf(a.errOut, "%s: %d scene(s), %d error(s), %d warning(s), %d asset(s)\n",
		res.Project, len(res.Scenes), errs, warns, len(res.Assets))
}

func (a *app) cmdInit(args []string) error {
	if len(args) < 2 {
		return usageErr("init requires <dir> and <name>")
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	p := graph.NewProject(args[1])
	if err := p.AddScene(graph.NewScene("main", "Main")); err != nil {
		return err
	}
	a.log.Info("init project", "root", abs, "name", args[1])
	h, err := storage.InitProject(abs, p)
	if err != nil {
		return err
	}
	*a.ph = *h
	fmt.Fprintln(a.out, "Created project at", abs)
	return nil
}

func (a *app) cmdCompile(ctx context.Context, args []string) error {
	fs := newFlags("compile", a.errOut)
	out := fs.String("out", "", "write the script to this file instead of stdout")
	target := fs.String("target", "", "game project root used to resolve asset paths")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("compile requires <dir>")
	}
	ph, err := a.open(pos[0])
	if err != nil {
		return err
	}
	res, err := a.compile(ph, *target)
	if err != nil {
		return err
	}
	a.record(ctx, ph, res)
	a.printDiagnostics(res.Diagnostics)
	a.summary(res)
	if *out == "" {
		_, err := fmt.Fprint(a.out, res.Script)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(*out, []byte(res.Script), 0o644)
}

func (a *app) cmdCheck(args []string) error {
	fs := newFlags("check", a.errOut)
	asJSON := fs.Bool("json", false, "print the compile report as JSON")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("check requires <dir>")
	}
	ph, err := a.open(pos[0])
	if err != nil {
		return err
	}
	res, err := a.compile(ph, "")
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCENE\tEMITTED\tERRORS\tWARNINGS\tENTRIES")
		for _, s := range res.Scenes {
			fmt.Fprintf(tw, "%s\t%v\t%d\t%d\t%s\n", s.ID, s.Emitted, s.Errors, s.Warnings, strings.Join(s.Entries, ","))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintln(a.out, d.String())
		}
	}
	if res.Diagnostics.HasErrors() {
		return exitError(1)
	}
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := newFlags("export", a.errOut)
	preset := fs.String("preset", string(export.PresetRelease), "release or review")
	pdf := fs.Bool("pdf", a.cfg.Export.PDFProof, "also print a PDF proof of the script")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return usageErr("export requires <dir> and <target>")
	}
	ph, err := a.open(pos[0])
	if err != nil {
		return err
	}
	target, err := export.ResolveTarget(ph.Root, pos[1])
	if err != nil {
		return err
	}
	res, err := a.compile(ph, target)
	if err != nil {
		return err
	}
	a.printDiagnostics(res.Diagnostics)
	opt := export.BatchOptions{
		Preset:     export.PresetName(*preset),
		Target:     target,
		ScriptName: a.cfg.Export.ScriptName,
		Workers:    a.cfg.Export.Workers,
	}
	if *pdf {
		opt.Formats = []string{export.FormatGame, export.FormatPDF}
	}
	rep, err := export.Batch(ctx, ph.Root, res, opt)
	if err != nil {
		return err
	}
	a.record(ctx, ph, res)
	stats := telemetry.ExportStats{Files: rep.Files(), PDF: rep.ProofPath != "", Duration: rep.Duration}
	if rep.Game != nil {
		stats.Bytes = rep.Game.Bytes
		fmt.Fprintf(a.out, "Wrote %s (%d asset(s) copied, %d up to date)\n", rep.Game.ScriptPath, rep.Game.Copied, rep.Game.Unchanged)
	}
	if rep.ProofPath != "" {
		fmt.Fprintln(a.out, "Wrote", rep.ProofPath)
	}
	telemetry.Exported(stats)
	a.summary(res)
	return nil
}

func (a *app) cmdImport(args []string) error {
	if len(args) != 2 {
		return usageErr("import requires <dir> and <draft file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	d, perrs := script.Parse(string(data))
	for _, e := range perrs {
		fmt.Fprintf(a.errOut, "%s:%d:%d: %s\n", args[1], e.Line, e.Column, e.Message)
	}
	if len(perrs) > 0 {
		return exitError(1)
	}
	ph, err := a.open(args[0])
	if err != nil {
		return err
	}
	reserved := a.cfg.Compiler.DispatchLabel
	got, err := script.Import(ph.Project, d, script.ImportOptions{Reserved: reserved})
	if err != nil {
		return err
	}
	if err := storage.Save(ph); err != nil {
		return err
	}
	for _, im := range got {
		fmt.Fprintf(a.out, "Imported scene %s (%d block(s))\n", im.SceneID, im.Blocks)
	}
	return nil
}

// parseValue reads JSON scalars, lists and objects; anything else is a string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func (a *app) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return usageErr("set requires <dir> <scene> <block> key=value...")
	}
	block, err := strconv.Atoi(args[2])
	if err != nil {
		return usageErr("block id %q is not a number", args[2])
	}
	ph, err := a.open(args[0])
	if err != nil {
		return err
	}
	opts, err := a.compilerOptions("")
	if err != nil {
		return err
	}
	s, err := workspace.Open(ph, workspace.Options{Compiler: opts, Logger: a.log})
	if err != nil {
		return err
	}
	defer s.Close()
	for _, kv := range args[3:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return usageErr("expected key=value, got %q", kv)
		}
		if err := s.SetParam(args[1], graph.BlockID(block), key, parseValue(value)); err != nil {
			return err
		}
	}
	if err := s.Save(); err != nil {
		return err
	}
	seq := s.Recompile()
	wait, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for {
		select {
		case res := <-s.Results():
			if res == nil || res.Request < seq {
				continue
			}
			for _, d := range res.Diagnostics.ForBlock(args[1], block) {
				fmt.Fprintln(a.errOut, d.String())
			}
			fmt.Fprintf(a.out, "Updated block %d in scene %s\n", block, args[1])
			return nil
		case <-wait.Done():
			return wait.Err()
		}
	}
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := newFlags("search", a.errOut)
	scene := fs.String("scene", "", "only this scene id")
	speaker := fs.String("speaker", "", "only dialogue of this speaker")
	typ := fs.String("type", "", "comma-separated document types (say, menu, label, ...)")
	limit := fs.Int("limit", 50, "maximum results")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 1 {
		return usageErr("search requires <dir>")
	}
	ph, err := a.open(pos[0])
	if err != nil {
		return err
	}
	if err := a.refreshIndex(ctx, ph); err != nil {
		return err
	}
	q := storage.SearchQuery{Text: strings.Join(pos[1:], " "), Scene: *scene, Speaker: *speaker, Limit: *limit}
	if *typ != "" {
		q.Types = strings.Split(*typ, ",")
	}
	res, err := storage.Search(ctx, ph.Root, q)
	if err != nil {
		return err
	}
	a.printResults(res)
	return nil
}

func (a *app) cmdWhereUsed(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageErr("where-used requires <dir> and <label>")
	}
	ph, err := a.open(args[0])
	if err != nil {
		return err
	}
	if err := a.refreshIndex(ctx, ph); err != nil {
		return err
	}
	res, err := storage.WhereUsed(ctx, ph.Root, args[1], 100, 0)
	if err != nil {
		return err
	}
	if len(res) == 0 {
		fmt.Fprintf(a.errOut, "no references to %q\n", args[1])
	}
	a.printResults(res)
	return nil
}

func (a *app) refreshIndex(ctx context.Context, ph *storage.ProjectHandle) error {
	if _, err := storage.DetectAndRebuildIndex(ctx, ph.Root, ph.Project); err != nil {
		return err
	}
	return storage.UpdateIndex(ctx, ph.Root, ph.Project)
}

func (a *app) printResults(res []storage.SearchResult) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, r := range res {
		text := r.Snippet
		if r.Speaker != "" {
			text = r.Speaker + ": " + text
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path, r.Type, text)
	}
	_ = tw.Flush()
}

func (a *app) cmdReindex(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("reindex requires <dir>")
	}
	ph, err := a.open(args[0])
	if err != nil {
		return err
	}
	rebuilt, err := storage.DetectAndRebuildIndex(ctx, ph.Root, ph.Project)
	if err != nil {
		return err
	}
	if !rebuilt {
		if err := storage.RebuildIndex(ctx, ph.Root, ph.Project); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, "Rebuilt", storage.IndexPath(ph.Root))
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := newFlags("history", a.errOut)
	limit := fs.Int("limit", 10, "number of builds to list")
	prune := fs.Int("prune", 0, "delete all but the newest n builds")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageErr("history requires <dir>")
	}
	ph, err := a.open(pos[0])
	if err != nil {
		return err
	}
	if *prune > 0 {
		n, err := storage.PruneBuilds(ctx, ph, *prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.errOut, "pruned %d build(s)\n", n)
	}
	builds, err := storage.ListBuilds(ctx, ph, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tHASH\tERRORS\tWARNINGS\tENTRY")
	for _, b := range builds {
		hash := b.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", b.ID, b.At.Local().Format(time.DateTime), hash, b.Errors, b.Warnings, b.Entry)
	}
	return tw.Flush()
}

func (a *app) cmdPublish(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("publish requires <dir>")
	}
	if a.cfg.Archive.DSN == "" {
		return fmt.Errorf("no archive configured; set archive.dsn in %s or %s", configPathOrDefault(), config.EnvArchiveDSN)
	}
	ph, err := a.open(args[0])
	if err != nil {
		return err
	}
	b, err := storage.LatestBuild(ctx, ph)
	if errors.Is(err, storage.ErrNoBuilds) {
		return fmt.Errorf("%w; run vnforge compile first", err)
	}
	if err != nil {
		return err
	}
	timeout := time.Duration(a.cfg.Archive.TimeoutMs) * time.Millisecond
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	arc, err := archive.Open(octx, a.cfg.Archive.DSN, a.password, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = arc.Close() }()
	pub, err := arc.Publish(octx, *b)
	if err != nil {
		return err
	}
	if pub.Existing {
		fmt.Fprintf(a.out, "Build %s was already published as #%d\n", b.Hash[:min(12, len(b.Hash))], pub.ID)
		return nil
	}
	fmt.Fprintf(a.out, "Published build %s as #%d\n", b.Hash[:min(12, len(b.Hash))], pub.ID)
	return nil
}

func (a *app) cmdArchiveLogin() error {
	fmt.Fprint(a.errOut, "Archive password: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return errors.New("empty password")
	}
	if err := config.Save(a.cfg, pw); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Archive password stored in the system keychain")
	return nil
}

func (a *app) cmdConfig() error {
	fmt.Fprintln(a.out, "Config file:", configPathOrDefault())
	for _, k := range config.Keys() {
		if env, ok := config.EnvOverrideFor(k); ok {
			fmt.Fprintf(a.out, "  %s overridden by %s\n", k, env)
		}
	}
	fmt.Fprintf(a.out, "  archive password stored: %v\n", a.password != "")
	return nil
}

func configPathOrDefault() string {
	p, err := config.ConfigPath()
	if err != nil {
		return "config.yaml"
	}
	return p
}
