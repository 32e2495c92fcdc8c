package equiv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathequiv/pkg/symbolic"
)

// writeProgram 把路径文件写入临时目录
func writeProgram(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	}
	return dir
}

func bounded(bound string) string {
	return decl32 + "(assert (bvule x (_ bv" + bound + " 32)))\n"
}

func newTestChecker(t *testing.T, opts ...Option) *Checker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 4
	c, err := NewChecker(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCompareDirs_Equivalent(t *testing.T) {
	dirA := writeProgram(t, "prog_O0", map[string]string{
		"prog_O0_path_1.smt2": relocatedFrame,
		"prog_O0_path_2.smt2": bounded("20"),
	})
	dirB := writeProgram(t, "prog_O2", map[string]string{
		"prog_O2_path_1.smt2": bounded("20"),
		"prog_O2_path_2.smt2": relocatedFrame,
	})

	report, err := newTestChecker(t).CompareDirs(context.Background(), dirA, dirB)
	require.NoError(t, err)

	assert.Equal(t, "prog_O0", report.ProgramA)
	assert.Equal(t, "prog_O2", report.ProgramB)
	assert.Equal(t, ProgramEquivalent, report.Summary.Verdict)
	assert.Equal(t, 2, report.Summary.EquivalentPairs)
	assert.Equal(t, 0, report.Summary.UnmatchedCount)
	require.Len(t, report.Pairs, 2)
	assert.Equal(t, 1, report.Pairs[0].A.Index)
	assert.Equal(t, 2, report.Pairs[0].B.Index)
	assert.Equal(t, "relative", report.AddressPolicy)
	assert.Equal(t, symbolic.StrategyNone, report.Oracle)
	assert.Len(t, report.ID, 16)
}

func TestCompareDirs_NotEquivalent(t *testing.T) {
	dirA := writeProgram(t, "a", map[string]string{
		"a_path_1.smt2": bounded("10"),
	})
	dirB := writeProgram(t, "b", map[string]string{
		"b_path_1.smt2": bounded("10") + "(assert (bvult (bvmul x (_ bv3 32)) (_ bv100 32)))\n",
	})

	report, err := newTestChecker(t).CompareDirs(context.Background(), dirA, dirB)
	require.NoError(t, err)
	assert.Equal(t, ProgramNotEquivalent, report.Summary.Verdict)
	assert.Equal(t, NotEquivalent, report.Pairs[0].Result.Layer(symbolic.LayerTransform).Verdict)
}

func TestCompareDirs_PartialWithParseErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	dirA := writeProgram(t, "a", map[string]string{
		"a_path_1.smt2": bounded("10"),
		"a_path_2.smt2": bounded("20"),
	})
	dirB := writeProgram(t, "b", map[string]string{
		"b_path_1.smt2": bounded("10"),
		"b_path_2.smt2": bounded("20"),
		"b_path_3.smt2": bounded("30"),
		"b_path_4.smt2": "(assert (bvult y",
	})

	report, err := newTestChecker(t, WithMetrics(metrics)).CompareDirs(context.Background(), dirA, dirB)
	require.NoError(t, err)

	assert.Equal(t, ProgramPartiallyEquivalent, report.Summary.Verdict)
	assert.Equal(t, 1, report.Summary.UnmatchedCount)
	assert.Equal(t, 2, report.Summary.EquivalentPairs)
	assert.Equal(t, 3, report.PathsB)
	require.Len(t, report.ParseErrors, 1)
	assert.Equal(t, "B", report.ParseErrors[0].Side)
	assert.Equal(t, "b_path_4.smt2", report.ParseErrors[0].File)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.parseErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.programs.WithLabelValues("partially_equivalent")))
}

func TestCompareDirs_Unavailable(t *testing.T) {
	dirA := writeProgram(t, "a", map[string]string{"a_path_1.smt2": bounded("10")})
	empty := writeProgram(t, "empty", map[string]string{"broken_path_1.smt2": "(assert"})

	_, err := newTestChecker(t).CompareDirs(context.Background(), dirA, empty)
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "B", unavailable.Side)
	assert.Equal(t, "empty", unavailable.Program)
	assert.True(t, errors.Is(err, symbolic.ErrNoPaths))

	_, err = newTestChecker(t).CompareDirs(context.Background(), filepath.Join(t.TempDir(), "missing"), dirA)
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "A", unavailable.Side)
}

func TestCompareDirs_CancelledWhileLoading(t *testing.T) {
	dirA := writeProgram(t, "prog_O0", map[string]string{"prog_O0_path_1.smt2": bounded("10")})
	dirB := writeProgram(t, "prog_O2", map[string]string{"prog_O2_path_1.smt2": bounded("10")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestChecker(t).CompareDirs(ctx, dirA, dirB)
	require.NoError(t, err, "cancellation yields an incomplete report")
	require.NotNil(t, report)
	assert.Equal(t, ProgramPartiallyEquivalent, report.Summary.Verdict)
	assert.True(t, report.Summary.Incomplete)
	assert.Equal(t, "prog_O0", report.ProgramA)
	assert.Equal(t, "prog_O2", report.ProgramB)
}

func TestCompareDirs_ReportIDStable(t *testing.T) {
	dirA := writeProgram(t, "a", map[string]string{"a_path_1.smt2": bounded("10")})
	dirB := writeProgram(t, "b", map[string]string{"b_path_1.smt2": bounded("11")})

	c := newTestChecker(t)
	first, err := c.CompareDirs(context.Background(), dirA, dirB)
	require.NoError(t, err)
	second, err := c.CompareDirs(context.Background(), dirA, dirB)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	swapped, err := c.CompareDirs(context.Background(), dirB, dirA)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, swapped.ID)
}

func TestComparePaths(t *testing.T) {
	c := newTestChecker(t)
	a := mustPath(t, "a", bounded("10"))
	b := mustPath(t, "b", bounded("10"))

	got := c.ComparePaths(context.Background(), a, b)
	assert.Equal(t, Equivalent, got.Verdict)
	assert.Same(t, c.Comparator(), c.comparator)
}

func TestComparePair(t *testing.T) {
	c := newTestChecker(t)
	a := mustPath(t, "a.smt2", bounded("10"))
	b := mustPath(t, "b.smt2", bounded("12"))

	report := c.ComparePair(context.Background(), a, b)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "a.smt2", report.ProgramA)
	assert.Equal(t, NotEquivalent, report.Pairs[0].Result.Verdict)
	assert.Equal(t, ProgramNotEquivalent, report.Summary.Verdict)
}
