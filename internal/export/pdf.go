/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"vnforge/internal/compiler"
	"vnforge/internal/diag"
)

// ProofOptions controls the printable script proof.
// Units are millimetres on A4 portrait.
type ProofOptions struct {
	// Title defaults to the project name.
	Title string
	// FontSize of the script listing in points (default 8).
	FontSize float64
	// LineNumbers prefixes every script line with its number.
	LineNumbers bool
}

// ScriptProofPDF renders a compile result as a PDF for review on paper: a
// summary page with per-scene counts and all diagnostics, followed by the
// script listing in a monospaced font. Relative outPath values are placed
// under <project>/exports/.
func ScriptProofPDF(projectRoot string, res *compiler.Result, outPath string, opt ProofOptions) (string, error) {
	if res == nil {
		return "", errors.New("nil compile result")
	}
	if opt.FontSize <= 0 {
		opt.FontSize = 8
	}
	title := opt.Title
	if title == "" {
		title = res.Project
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title+" - script proof", true)
	pdf.SetCreator("vnforge", true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, fmt.Sprintf("%s  %s  page %d/{nb}", tr(title), shortHash(res.Hash), pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	errs, warns := res.Counts()
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d scene(s), %d error(s), %d warning(s), %d asset(s), entry %s",
		len(res.Scenes), errs, warns, len(res.Assets), orDash(res.Entry)), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	sceneTable(pdf, tr, res.Scenes)
	if len(res.Diagnostics) > 0 {
		pdf.Ln(4)
		diagnosticList(pdf, tr, res.Diagnostics)
	}

	pdf.AddPage()
	pdf.SetFont("Courier", "", opt.FontSize)
	lineH := opt.FontSize * 0.45
	lines := strings.Split(strings.TrimRight(res.Script, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		if opt.LineNumbers {
			pdf.SetTextColor(150, 150, 150)
			pdf.CellFormat(float64(width+1)*opt.FontSize*0.22, lineH, fmt.Sprintf("%*d", width, i+1), "", 0, "R", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
		}
		pdf.MultiCell(0, lineH, tr(line), "", "L", false)
	}

	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(projectRoot, "exports", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return outPath, nil
}

func sceneTable(pdf *gofpdf.Fpdf, tr func(string) string, scenes []compiler.SceneResult) {
	cols := []float64{70, 25, 20, 25, 40}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Scene", "Emitted", "Errors", "Warnings", "Entry labels"} {
		pdf.CellFormat(cols[i], 6, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)
	for _, s := range scenes {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		emitted := "yes"
		if !s.Emitted {
			emitted = "no"
		}
		pdf.CellFormat(cols[0], 6, tr(name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(cols[1], 6, emitted, "1", 0, "L", false, 0, "")
		pdf.CellFormat(cols[2], 6, fmt.Sprint(s.Errors), "1", 0, "R", false, 0, "")
		pdf.CellFormat(cols[3], 6, fmt.Sprint(s.Warnings), "1", 0, "R", false, 0, "")
		pdf.CellFormat(cols[4], 6, tr(strings.Join(s.Entries, ", ")), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
}

func diagnosticList(pdf *gofpdf.Fpdf, tr func(string) string, ds diag.List) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Diagnostics", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	for _, d := range ds {
		if d.Severity == diag.Error {
			pdf.SetTextColor(180, 0, 0)
		} else {
			pdf.SetTextColor(140, 90, 0)
		}
		pdf.MultiCell(0, 4, tr(d.String()), "", "L", false)
	}
	pdf.SetTextColor(0, 0, 0)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
