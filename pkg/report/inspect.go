package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"

	"pathequiv/pkg/symbolic"
)

// PathInfo 单条路径的分析结果
type PathInfo struct {
	Name         string          `json:"name" yaml:"name"`
	Index        int             `json:"index" yaml:"index"`
	Fingerprint  string          `json:"fingerprint" yaml:"fingerprint"`
	Output       string          `json:"output,omitempty" yaml:"output,omitempty"`
	Inputs       []InputInfo     `json:"inputs" yaml:"inputs"`
	Constraints  []ConstraintTag `json:"constraints" yaml:"constraints"`
	Memory       []string        `json:"memory,omitempty" yaml:"memory,omitempty"`
	Transforms   []string        `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Unclassified int             `json:"unclassified,omitempty" yaml:"unclassified,omitempty"`
}

// InputInfo 输入变量及其取值域
type InputInfo struct {
	Name   string `json:"name" yaml:"name"`
	Width  uint   `json:"width" yaml:"width"`
	Domain string `json:"domain" yaml:"domain"`
}

// ConstraintTag 约束及其所属的层
type ConstraintTag struct {
	Layers string `json:"layers" yaml:"layers"`
	Text   string `json:"text" yaml:"text"`
}

// Inspect 汇总路径的分类与签名
func Inspect(p *symbolic.Path) *PathInfo {
	sig := p.Signature()
	cls := p.Classification()

	info := &PathInfo{
		Name:         p.Name,
		Index:        p.Index,
		Fingerprint:  sig.Fingerprint.Hex(),
		Output:       p.Output.String(),
		Unclassified: sig.Unclassified,
	}
	for i, v := range p.Inputs() {
		info.Inputs = append(info.Inputs, InputInfo{Name: v.Name, Width: v.Width, Domain: sig.Domains[i].String()})
	}
	for i, c := range p.Constraints {
		info.Constraints = append(info.Constraints, ConstraintTag{Layers: cls.Tags[i].String(), Text: c.Text})
	}
	for _, m := range sig.Memory {
		info.Memory = append(info.Memory, m.String())
	}
	for _, t := range sig.Transforms {
		info.Transforms = append(info.Transforms, t.String())
	}
	return info
}

// RenderPath 按格式输出路径分析结果; csv按text处理
func RenderPath(w io.Writer, p *symbolic.Path, format Format) error {
	info := Inspect(p)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case FormatYAML:
		data, err := yaml.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to encode path: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	fmt.Fprintf(w, "%s %s (index %d)\n", headerStyle.Sprint("Path:"), info.Name, info.Index)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Fingerprint:"), info.Fingerprint)
	if info.Output != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Output:"), info.Output)
	}

	fmt.Fprintf(w, "\n%s\n", headerStyle.Sprint("Inputs"))
	inputs := tablewriter.NewWriter(w)
	inputs.SetHeader([]string{"#", "Name", "Width", "Domain"})
	inputs.SetAutoFormatHeaders(false)
	for i, in := range info.Inputs {
		inputs.Append([]string{fmt.Sprint(i), in.Name, fmt.Sprint(in.Width), in.Domain})
	}
	inputs.Render()

	fmt.Fprintf(w, "\n%s\n", headerStyle.Sprint("Constraints"))
	constraints := tablewriter.NewWriter(w)
	constraints.SetHeader([]string{"#", "Layers", "Constraint"})
	constraints.SetAutoFormatHeaders(false)
	constraints.SetAutoWrapText(false)
	for i, c := range info.Constraints {
		constraints.Append([]string{fmt.Sprint(i), c.Layers, c.Text})
	}
	constraints.Render()

	if len(info.Memory) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Sprint("Memory accesses"))
		for i, m := range info.Memory {
			fmt.Fprintf(w, "  %2d  %s\n", i, m)
		}
	}
	if len(info.Transforms) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Sprint("Transformations"))
		for _, t := range info.Transforms {
			fmt.Fprintf(w, "  %s\n", t)
		}
	}
	if info.Unclassified > 0 {
		fmt.Fprintf(w, "\n%s\n", unknownStyle.Sprintf("%d constraint(s) use operators outside the known grammar", info.Unclassified))
	}
	return nil
}
