package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"

	"pathequiv/pkg/equiv"
	"pathequiv/pkg/symbolic"
)

// Format 报告输出格式
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// Formats 支持的全部格式
var Formats = []Format{FormatText, FormatJSON, FormatYAML, FormatCSV}

// ParseFormat 解析格式名称, 空字符串为text
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatText, nil
	}
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown report format %q (want text, json, yaml or csv)", s)
}

var (
	equivalentStyle    = color.New(color.FgGreen, color.Bold)
	notEquivalentStyle = color.New(color.FgRed, color.Bold)
	unknownStyle       = color.New(color.FgYellow, color.Bold)
	headerStyle        = color.New(color.FgCyan, color.Bold)
	faintStyle         = color.New(color.Faint)
)

// Render 按格式输出报告
func Render(w io.Writer, r *equiv.Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatCSV:
		return renderCSV(w, r)
	case FormatText, "":
		return renderText(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// ==================== 文本格式 ====================

func renderText(w io.Writer, r *equiv.Report) error {
	fmt.Fprintf(w, "%s %s (%d paths) vs %s (%d paths)\n",
		headerStyle.Sprint("Programs:"), r.ProgramA, r.PathsA, r.ProgramB, r.PathsB)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Verdict: "), programVerdict(r.Summary.Verdict))
	if r.Summary.Incomplete {
		fmt.Fprintln(w, unknownStyle.Sprint("Comparison was interrupted; the verdict is incomplete."))
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"A", "B", "Verdict", "Conf", "Control flow", "Memory", "Transform", "Notes"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	for _, p := range r.Pairs {
		table.Append([]string{
			refLabel(p.A),
			refLabel(p.B),
			verdict(p.Result.Verdict),
			fmt.Sprintf("%.2f", p.Result.Confidence),
			layerCell(p, symbolic.LayerControlFlow),
			layerCell(p, symbolic.LayerMemory),
			layerCell(p, symbolic.LayerTransform),
			strings.Join(p.Result.Notes, "; "),
		})
	}
	table.Render()

	s := r.Summary
	fmt.Fprintf(w, "\n%d pairs: %d equivalent, %d partial, %d not equivalent; %d unmatched (A %d, B %d); mean confidence %.2f\n",
		s.Pairs, s.EquivalentPairs, s.PartialPairs, s.NotEquivalentPairs,
		s.UnmatchedCount, s.UnmatchedA, s.UnmatchedB, s.MeanConfidence)

	if len(r.ParseErrors) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Sprintf("Excluded files (%d):", len(r.ParseErrors)))
		for _, e := range r.ParseErrors {
			if e.Line > 0 {
				fmt.Fprintf(w, "  [%s] %s:%d: %s\n", e.Side, e.File, e.Line, e.Message)
			} else {
				fmt.Fprintf(w, "  [%s] %s: %s\n", e.Side, e.File, e.Message)
			}
		}
	}

	_, err := fmt.Fprintln(w, faintStyle.Sprintf("\nreport %s, policy %s, oracle %s, %s",
		r.ID, r.AddressPolicy, r.Oracle, r.Duration))
	return err
}

func refLabel(ref *equiv.PathRef) string {
	if ref == nil {
		return "-"
	}
	return fmt.Sprintf("#%d %s", ref.Index, ref.Name)
}

func layerCell(p equiv.PathPairResult, l symbolic.Layer) string {
	if p.Unmatched {
		return "-"
	}
	lr := p.Result.Layer(l)
	if l == symbolic.LayerMemory {
		return fmt.Sprintf("%s %.2f", verdict(lr.Verdict), lr.Score)
	}
	return verdict(lr.Verdict)
}

func verdict(v equiv.Verdict) string {
	switch v {
	case equiv.Equivalent:
		return equivalentStyle.Sprint(v)
	case equiv.NotEquivalent:
		return notEquivalentStyle.Sprint(v)
	default:
		return unknownStyle.Sprint(v)
	}
}

func programVerdict(v equiv.ProgramVerdict) string {
	label := strings.ToUpper(strings.ReplaceAll(v.String(), "_", " "))
	switch v {
	case equiv.ProgramEquivalent:
		return equivalentStyle.Sprint(label)
	case equiv.ProgramNotEquivalent:
		return notEquivalentStyle.Sprint(label)
	default:
		return unknownStyle.Sprint(label)
	}
}

// ==================== CSV格式 ====================

var csvHeader = []string{
	"a_index", "a_name", "b_index", "b_name", "unmatched", "verdict", "confidence",
	"control_flow", "memory", "memory_similarity", "transform", "timed_out", "notes",
}

func renderCSV(w io.Writer, r *equiv.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range r.Pairs {
		mem := p.Result.Layer(symbolic.LayerMemory)
		row := []string{
			refIndex(p.A), refName(p.A), refIndex(p.B), refName(p.B),
			strconv.FormatBool(p.Unmatched),
			p.Result.Verdict.String(),
			strconv.FormatFloat(p.Result.Confidence, 'f', 4, 64),
			p.Result.Layer(symbolic.LayerControlFlow).Verdict.String(),
			mem.Verdict.String(),
			strconv.FormatFloat(mem.Score, 'f', 4, 64),
			p.Result.Layer(symbolic.LayerTransform).Verdict.String(),
			strconv.FormatBool(p.Result.TimedOut),
			strings.Join(p.Result.Notes, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func refIndex(ref *equiv.PathRef) string {
	if ref == nil {
		return ""
	}
	return strconv.Itoa(ref.Index)
}

func refName(ref *equiv.PathRef) string {
	if ref == nil {
		return ""
	}
	return ref.Name
}
