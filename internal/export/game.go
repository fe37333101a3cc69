/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"vnforge/internal/assets"
	"vnforge/internal/compiler"
	applog "vnforge/internal/log"
)

// DefaultScriptName is the file the generated script is written to inside game/.
const DefaultScriptName = "script.rpy"

// GameOptions controls placing a compile result into a game project.
type GameOptions struct {
	// Target is the game project root. Relative targets are placed under
	// <project>/exports/.
	Target string
	// ScriptName defaults to DefaultScriptName.
	ScriptName string
	// Workers bounds concurrent asset copies (default 4).
	Workers int
	Logger  *slog.Logger
}

// GameReport describes what WriteGame did.
type GameReport struct {
	ScriptPath string
	Copied     int
	// Unchanged counts assets whose destination was already up to date.
	Unchanged int
	Bytes     int64
}

// Files returns the number of files written.
func (r GameReport) Files() int { return r.Copied + 1 }

// ResolveTarget returns the absolute game root for target. Compiles meant
// for export must use the same root so asset ids line up.
func ResolveTarget(projectRoot, target string) (string, error) {
	if target == "" {
		return "", errors.New("export target is required")
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(projectRoot, "exports", target)
	}
	return filepath.Abs(target)
}

// WriteGame writes res.Script to <target>/game/<script> and places every
// asset on the copy-list. The script is replaced atomically; copies run in
// parallel and the first failure cancels the rest.
func WriteGame(ctx context.Context, projectRoot string, res *compiler.Result, opt GameOptions) (GameReport, error) {
	var rep GameReport
	if res == nil {
		return rep, errors.New("nil compile result")
	}
	target, err := ResolveTarget(projectRoot, opt.Target)
	if err != nil {
		return rep, err
	}
	if opt.ScriptName == "" {
		opt.ScriptName = DefaultScriptName
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	l := opt.Logger
	if l == nil {
		l = applog.WithComponent("export")
	}
	l = applog.WithOperation(l, "write_game")

	game := filepath.Join(target, assets.GameDir)
	if err := os.MkdirAll(game, 0o755); err != nil {
		return rep, fmt.Errorf("ensure game dir: %w", err)
	}
	rep.ScriptPath = filepath.Join(game, opt.ScriptName)
	if err := atomicWrite(rep.ScriptPath, []byte(res.Script)); err != nil {
		return rep, fmt.Errorf("write script: %w", err)
	}
	rep.Bytes = int64(len(res.Script))

	var copied, unchanged, bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opt.Workers)
	for _, c := range res.Assets {
		dest := filepath.Join(game, filepath.FromSlash(c.ID))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, fresh, err := placeAsset(c.Source, dest)
			if err != nil {
				return fmt.Errorf("copy asset %s: %w", c.ID, err)
			}
			if fresh {
				unchanged.Add(1)
				return nil
			}
			copied.Add(1)
			bytes.Add(n)
			return nil
		})
	}
	err = g.Wait()
	rep.Copied = int(copied.Load())
	rep.Unchanged = int(unchanged.Load())
	rep.Bytes += bytes.Load()
	if err != nil {
		l.Error("asset copy failed", "target", target, "err", err)
		return rep, err
	}
	l.Info("game written", "target", target, "script", rep.ScriptPath, "copied", rep.Copied, "unchanged", rep.Unchanged)
	return rep, nil
}

// placeAsset copies src to dest unless dest already has the same size and is
// not older than src. It reports the bytes copied and whether dest was fresh.
func placeAsset(src, dest string) (int64, bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return 0, false, err
	}
	if di, err := os.Stat(dest); err == nil && di.Size() == si.Size() && !di.ModTime().Before(si.ModTime()) {
		return 0, true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, false, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = in.Close() }()
	n, err := writeVia(dest, func(w io.Writer) (int64, error) { return io.Copy(w, in) })
	return n, false, err
}

func atomicWrite(path string, data []byte) error {
	_, err := writeVia(path, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
	return err
}

// writeVia fills a temp file next to path and renames it into place.
func writeVia(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	n, err := fill(tmp)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}
