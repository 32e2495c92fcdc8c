package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"pathequiv/pkg/equiv"
	"pathequiv/pkg/symbolic"
)

func init() {
	color.NoColor = true
}

// sampleReport 一个匹配对加一条B侧未匹配路径
func sampleReport() *equiv.Report {
	layers := [symbolic.LayerCount]equiv.LayerResult{
		{Layer: symbolic.LayerControlFlow, Verdict: equiv.Equivalent, Score: 1, Detail: "1 input domains agree"},
		{Layer: symbolic.LayerMemory, Verdict: equiv.Equivalent, Score: 1, Detail: "no memory accesses on either side"},
		{Layer: symbolic.LayerTransform, Verdict: equiv.Equivalent, Score: 1, Detail: "no transformations on either side"},
	}
	pairs := []equiv.PathPairResult{
		{
			A:      &equiv.PathRef{Index: 1, Name: "prog_O0_path_1.smt2", Fingerprint: "0x01"},
			B:      &equiv.PathRef{Index: 2, Name: "prog_O2_path_2.smt2", Fingerprint: "0x02", Output: "42"},
			Result: equiv.EquivalenceVerdict{Verdict: equiv.Equivalent, Confidence: 1, Layers: layers},
		},
		{
			B:         &equiv.PathRef{Index: 1, Name: "prog_O2_path_1.smt2"},
			Unmatched: true,
			Result:    equiv.EquivalenceVerdict{Verdict: equiv.Unknown, Notes: []string{"no counterpart in program A"}},
		},
	}
	return &equiv.Report{
		ID:            "0123456789abcdef",
		ProgramA:      "prog_O0",
		ProgramB:      "prog_O2",
		PathsA:        1,
		PathsB:        2,
		Summary:       equiv.VerdictForProgram(pairs, false),
		Pairs:         pairs,
		ParseErrors:   []equiv.FileError{{Side: "B", File: "prog_O2_path_3.smt2", Line: 2, Message: "unbalanced parentheses"}},
		AddressPolicy: "relative",
		Oracle:        "sampling",
		StartedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:      1500 * time.Millisecond,
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "JSON", "yaml", "csv"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatText))
	out := buf.String()

	assert.Contains(t, out, "prog_O0 (1 paths) vs prog_O2 (2 paths)")
	assert.Contains(t, out, "PARTIALLY EQUIVALENT")
	assert.Contains(t, out, "#1 prog_O0_path_1.smt2")
	assert.Contains(t, out, "equivalent 1.00")
	assert.Contains(t, out, "no counterpart in program A")
	assert.Contains(t, out, "1 pairs: 1 equivalent, 0 partial, 0 not equivalent; 1 unmatched (A 0, B 1)")
	assert.Contains(t, out, "[B] prog_O2_path_3.smt2:2: unbalanced parentheses")
	assert.Contains(t, out, "report 0123456789abcdef, policy relative, oracle sampling, 1.5s")
	assert.NotContains(t, out, "\x1b[", "colors are disabled")
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatJSON))

	var decoded equiv.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, equiv.ProgramPartiallyEquivalent, decoded.Summary.Verdict)
	assert.Equal(t, symbolic.LayerMemory, decoded.Pairs[0].Result.Layers[1].Layer)
	assert.Contains(t, buf.String(), `"verdict": "partially_equivalent"`)
	assert.Contains(t, buf.String(), `"layer": "control_flow"`)
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatYAML))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "prog_O0", decoded["program_a"])
	assert.Contains(t, buf.String(), "verdict: partially_equivalent")
	assert.Contains(t, buf.String(), "unmatched: true")
}

func TestRender_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatCSV))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1", "prog_O0_path_1.smt2", "2", "prog_O2_path_2.smt2", "false",
		"equivalent", "1.0000", "equivalent", "equivalent", "1.0000", "equivalent", "false", ""}, rows[1])
	assert.Equal(t, "", rows[2][0])
	assert.Equal(t, "true", rows[2][4])
}

func TestRenderPath(t *testing.T) {
	p, err := symbolic.ParsePath(strings.NewReader(`(declare-fun x () (_ BitVec 8))
(declare-fun mem_1000_1_8 () (_ BitVec 8))
(assert (bvule x (_ bv9 8)))
(assert (= mem_1000_1_8 (bvadd x (_ bv1 8))))
; output: 3
`), "demo_path_4.smt2")
	require.NoError(t, err)

	info := Inspect(p)
	assert.Equal(t, 4, info.Index)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, "[0, 9]", info.Inputs[0].Domain)
	require.Len(t, info.Constraints, 2)
	assert.Equal(t, "control_flow", info.Constraints[0].Layers)
	assert.Equal(t, "memory|transform", info.Constraints[1].Layers)
	assert.Equal(t, []string{"bvadd/2 const=1"}, info.Transforms)
	assert.Len(t, info.Memory, 1)

	var buf bytes.Buffer
	require.NoError(t, RenderPath(&buf, p, FormatText))
	assert.Contains(t, buf.String(), "demo_path_4.smt2 (index 4)")
	assert.Contains(t, buf.String(), "Transformations")

	buf.Reset()
	require.NoError(t, RenderPath(&buf, p, FormatJSON))
	assert.Contains(t, buf.String(), `"output": "3"`)
}
