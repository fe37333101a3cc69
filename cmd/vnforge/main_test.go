/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vnforge/internal/graph"
	"vnforge/internal/schema"
	"vnforge/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func setup(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("VNF_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv("VNF_LOG_LEVEL", "error")
	t.Setenv("VNF_TELEMETRY_OPT_IN", "")
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

// lighthouse writes a one-scene project: label, say, narration.
func lighthouse(t *testing.T, sayText string) string {
	t.Helper()
	p := graph.NewProject("lighthouse")
	p.Characters["e"] = "Eileen"
	s := graph.NewScene("main", "Main")
	require.NoError(t, p.AddScene(s))
	l, err := s.AddBlock(schema.Label, graph.Params{"label": "shore"}, 0, 0)
	require.NoError(t, err)
	say, err := s.AddBlock(schema.Say, graph.Params{"who": "e", "text": sayText}, 0, 80)
	require.NoError(t, err)
	n, err := s.AddBlock(schema.Narration, graph.Params{"text": "The waves roll in."}, 0, 160)
	require.NoError(t, err)
	for _, pair := range [][2]graph.BlockID{{l, say}, {say, n}} {
		_, err := s.AddConnection(graph.Port{Block: pair[0], Role: schema.RoleNext}, graph.Port{Block: pair[1], Role: schema.RoleIn})
		require.NoError(t, err)
	}
	root := t.TempDir()
	_, err = storage.InitProject(root, p)
	require.NoError(t, err)
	return root
}

func TestVersionAndUsage(t *testing.T) {
	setup(t)
	code, out, _ := runCLI(t, "", "version")
	require.Equal(t, 0, code)
	require.True(t, strings.HasPrefix(out, "vnforge "))

	code, _, errOut := runCLI(t, "", "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, `unknown command "frobnicate"`)

	code, _, _ = runCLI(t, "", "compile")
	require.Equal(t, 2, code)
}

func TestInitCreatesCompilableProject(t *testing.T) {
	setup(t)
	dir := filepath.Join(t.TempDir(), "novel")
	code, out, errOut := runCLI(t, "", "init", dir, "Novel")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Created project")

	ph, err := storage.Open(dir)
	require.NoError(t, err)
	_, ok := ph.Project.Scene("main")
	require.True(t, ok)

	code, out, _ = runCLI(t, "", "compile", dir)
	require.Equal(t, 0, code)
	require.Contains(t, out, "label start:")
}

func TestCompileWritesScriptAndRecordsBuild(t *testing.T) {
	setup(t)
	root := lighthouse(t, "Look, the lighthouse.")
	outFile := filepath.Join(t.TempDir(), "out", "script.rpy")

	code, _, errOut := runCLI(t, "", "compile", root, "--out", outFile)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, errOut, "0 error(s)")
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "label shore:")
	require.Contains(t, string(data), "Look, the lighthouse.")

	code, out, _ := runCLI(t, "", "history", root)
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
}

func TestCheckExitsNonZeroOnErrors(t *testing.T) {
	setup(t)
	root := lighthouse(t, "")
	code, out, _ := runCLI(t, "", "check", root)
	require.Equal(t, 1, code)
	require.Contains(t, out, "param.missing")

	code, out, _ = runCLI(t, "", "check", "--json", root)
	require.Equal(t, 1, code)
	require.Contains(t, out, `"diagnostics"`)

	ok := lighthouse(t, "Hello.")
	code, _, _ = runCLI(t, "", "check", ok)
	require.Equal(t, 0, code)
}

func TestSearchAndWhereUsed(t *testing.T) {
	setup(t)
	root := lighthouse(t, "Look, the lighthouse.")
	code, out, errOut := runCLI(t, "", "search", root, "lighthouse")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "say")
	require.Contains(t, out, "e: ")

	code, out, _ = runCLI(t, "", "search", root, "--type", "label")
	require.Equal(t, 0, code)
	require.Contains(t, out, "label")

	code, _, errOut = runCLI(t, "", "where-used", root, "nowhere")
	require.Equal(t, 0, code)
	require.Contains(t, errOut, "no references")

	code, out, _ = runCLI(t, "", "reindex", root)
	require.Equal(t, 0, code)
	require.Contains(t, out, storage.IndexFileName)
}

func TestSetUpdatesBlockParams(t *testing.T) {
	setup(t)
	root := lighthouse(t, "Hello.")
	code, out, errOut := runCLI(t, "", "set", root, "main", "2", "text=Goodbye for now.", "expression=happy")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Updated block 2")

	ph, err := storage.Open(root)
	require.NoError(t, err)
	s, _ := ph.Project.Scene("main")
	b, ok := s.Block(2)
	require.True(t, ok)
	require.Equal(t, "Goodbye for now.", b.Params["text"])
	require.Equal(t, "happy", b.Params["expression"])

	code, _, _ = runCLI(t, "", "set", root, "main", "two", "text=x")
	require.Equal(t, 2, code)
	code, _, _ = runCLI(t, "", "set", root, "main", "99", "text=x")
	require.Equal(t, 1, code)
}

func TestPublishNeedsArchive(t *testing.T) {
	setup(t)
	t.Setenv("VNF_ARCHIVE_DSN", "")
	root := lighthouse(t, "Hello.")
	code, _, errOut := runCLI(t, "", "publish", root)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "no archive configured")
}

func TestArchiveLoginStoresPassword(t *testing.T) {
	setup(t)
	code, _, errOut := runCLI(t, "s3cret\n", "archive-login")
	require.Equal(t, 0, code, errOut)

	code, out, _ := runCLI(t, "", "config")
	require.Equal(t, 0, code)
	require.Contains(t, out, "archive password stored: true")

	code, _, _ = runCLI(t, "", "archive-logout")
	require.Equal(t, 0, code)
	code, out, _ = runCLI(t, "", "config")
	require.Equal(t, 0, code)
	require.Contains(t, out, "archive password stored: false")
}

func TestParseValue(t *testing.T) {
	require.Equal(t, float64(3), parseValue("3"))
	require.Equal(t, true, parseValue("true"))
	require.Equal(t, "plain text", parseValue("plain text"))
	require.Equal(t, []any{"a", "b"}, parseValue(`["a","b"]`))
}

func TestImportDraft(t *testing.T) {
	setup(t)
	root := lighthouse(t, "Hello.")
	draft := filepath.Join(t.TempDir(), "draft.txt")
	require.NoError(t, os.WriteFile(draft, []byte("# Harbor\nEileen: The boats are back.\n-> shore\n"), 0o644))

	code, out, errOut := runCLI(t, "", "import", root, draft)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Imported scene harbor")

	code, out, _ = runCLI(t, "", "compile", root)
	require.Equal(t, 0, code)
	require.Contains(t, out, "label harbor:")
	require.Contains(t, out, "jump shore")

	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("-> a b\n"), 0o644))
	code, _, errOut = runCLI(t, "", "import", root, bad)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "bad.txt:1:1")
}
