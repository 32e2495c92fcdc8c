package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathequiv/pkg/equiv"
)

const boundedPath = `(declare-fun x () (_ BitVec 32))
(assert (bvule x (_ bv10 32)))
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run 执行命令并返回退出码
func run(t *testing.T, args ...string) int {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	if err == nil {
		return exitEquivalent
	}
	var status *exitStatus
	if errors.As(err, &status) {
		return status.code
	}
	return exitError
}

func readReport(t *testing.T, path string) *equiv.Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r equiv.Report
	require.NoError(t, json.Unmarshal(data, &r))
	return &r
}

func TestCompareCommand(t *testing.T) {
	root := t.TempDir()
	dirA := filepath.Join(root, "prog_O0")
	dirB := filepath.Join(root, "prog_O2")
	writeFile(t, dirA, "prog_O0_path_1.smt2", boundedPath)
	writeFile(t, dirB, "prog_O2_path_1.smt2", boundedPath)
	out := filepath.Join(root, "report.json")
	store := filepath.Join(root, "history")

	code := run(t, "compare", dirA, dirB, "--format", "json", "--output", out, "--store", store)
	assert.Equal(t, exitEquivalent, code)

	r := readReport(t, out)
	assert.Equal(t, equiv.ProgramEquivalent, r.Summary.Verdict)

	// 已保存的报告可以从历史中取回
	shown := filepath.Join(root, "shown.json")
	assert.Equal(t, exitEquivalent, run(t, "history", "--store", store, "--show", r.ID, "-f", "json", "-o", shown))
	assert.Equal(t, r.ID, readReport(t, shown).ID)
}

func TestCompareCommand_ExitCodes(t *testing.T) {
	root := t.TempDir()
	dirA := filepath.Join(root, "a")
	dirB := filepath.Join(root, "b")
	writeFile(t, dirA, "a_path_1.smt2", boundedPath)
	writeFile(t, dirB, "b_path_1.smt2", boundedPath)
	writeFile(t, dirB, "b_path_2.smt2", boundedPath)
	out := filepath.Join(root, "out.txt")

	assert.Equal(t, exitDifferent, run(t, "compare", dirA, dirB, "-o", out), "unmatched path makes the programs partial")

	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	assert.Equal(t, exitError, run(t, "compare", dirA, empty, "-o", out))
	assert.Equal(t, exitError, run(t, "compare", dirA, dirB, "--format", "xml"))
	assert.Equal(t, exitError, run(t, "compare", dirA, dirB, "--address-policy", "nowhere"))
	assert.Equal(t, exitError, run(t, "compare", dirA))
}

func TestPairAndInspectCommands(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a_path_1.smt2", boundedPath)
	b := writeFile(t, root, "b_path_1.smt2", boundedPath+"(assert (bvult (bvmul x (_ bv3 32)) (_ bv100 32)))\n")
	out := filepath.Join(root, "out.json")

	assert.Equal(t, exitDifferent, run(t, "pair", a, b, "-f", "json", "-o", out))
	assert.Equal(t, equiv.ProgramNotEquivalent, readReport(t, out).Summary.Verdict)

	assert.Equal(t, exitEquivalent, run(t, "inspect", b, "-o", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bvmul/2 const=3")

	assert.Equal(t, exitError, run(t, "inspect", filepath.Join(root, "missing.smt2")))
}

func TestHistoryCommand_RequiresStore(t *testing.T) {
	assert.Equal(t, exitError, run(t, "history"))
}
