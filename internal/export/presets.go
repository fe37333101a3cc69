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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"vnforge/internal/compiler"
	applog "vnforge/internal/log"
)

// PresetName represents a named export preset.
type PresetName string

const (
	// PresetRelease places the script and assets into the game project.
	PresetRelease PresetName = "release"
	// PresetReview additionally prints a script proof.
	PresetReview PresetName = "review"
)

// Output formats understood by Batch.
const (
	FormatGame = "game"
	FormatPDF  = "pdf"
)

// BatchOptions controls a batch export of one compile result.
//
// Path semantics:
//   - If Target is empty it defaults to the preset name; relative targets
//     live under <project>/exports/.
//   - The proof is written to <project>/exports/<preset>/script-proof.pdf
//     unless ProofPath is set.
type BatchOptions struct {
	Preset     PresetName
	Formats    []string // allowed: game, pdf; empty means preset defaults
	Target     string
	ScriptName string
	Workers    int
	ProofPath  string
	Proof      ProofOptions
	Logger     *slog.Logger
}

// BatchReport collects the outcome of every format that ran.
type BatchReport struct {
	Game      *GameReport
	ProofPath string
	Duration  time.Duration
}

// Files counts every file written by the batch.
func (r BatchReport) Files() int {
	n := 0
	if r.Game != nil {
		n += r.Game.Files()
	}
	if r.ProofPath != "" {
		n++
	}
	return n
}

// Batch runs the exports of a preset against res. res should have been
// compiled with TargetRoot set to the resolved Target.
func Batch(ctx context.Context, projectRoot string, res *compiler.Result, opt BatchOptions) (BatchReport, error) {
	start := time.Now()
	var rep BatchReport
	if opt.Preset == "" {
		opt.Preset = PresetRelease
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	if opt.Target == "" {
		opt.Target = string(opt.Preset)
	}
	l := opt.Logger
	if l == nil {
		l = applog.WithComponent("export")
	}

	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case FormatGame:
			gr, err := WriteGame(ctx, projectRoot, res, GameOptions{
				Target:     opt.Target,
				ScriptName: opt.ScriptName,
				Workers:    opt.Workers,
				Logger:     l,
			})
			if err != nil {
				return rep, fmt.Errorf("game export: %w", err)
			}
			rep.Game = &gr
		case FormatPDF:
			out := opt.ProofPath
			if out == "" {
				out = filepath.Join(string(opt.Preset), "script-proof.pdf")
			}
			path, err := ScriptProofPDF(projectRoot, res, out, opt.Proof)
			if err != nil {
				return rep, fmt.Errorf("pdf proof: %w", err)
			}
			rep.ProofPath = path
		default:
			return rep, fmt.Errorf("unknown format: %s", f)
		}
	}
	rep.Duration = time.Since(start)
	applog.WithOperation(l, "batch").Info("export finished", "preset", opt.Preset, "files", rep.Files(), "took", rep.Duration)
	return rep, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetReview:
		return []string{FormatGame, FormatPDF}
	default:
		return []string{FormatGame}
	}
}
