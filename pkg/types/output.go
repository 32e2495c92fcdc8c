package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// OutputKind 观测输出的类型
type OutputKind int

const (
	// OutputNone 路径没有记录输出
	OutputNone OutputKind = iota
	// OutputInteger 输出是一个整数
	OutputInteger
	// OutputText 输出是任意文本
	OutputText
)

// String 返回输出类型的字符串表示
func (k OutputKind) String() string {
	switch k {
	case OutputNone:
		return "none"
	case OutputInteger:
		return "integer"
	case OutputText:
		return "text"
	default:
		return "unknown"
	}
}

// ObservedOutput 路径上观测到的程序输出
// 可以从多种格式解析:
// - 十进制整数: "42", "-7"
// - 十六进制字符串: "0x2a"
// - 其他内容按文本保存 (去掉首尾空白)
type ObservedOutput struct {
	kind OutputKind
	num  *big.Int
	text string
}

// NoOutput 返回空输出
func NoOutput() ObservedOutput {
	return ObservedOutput{}
}

// IntegerOutput 创建整数输出
func IntegerOutput(v int64) ObservedOutput {
	return ObservedOutput{kind: OutputInteger, num: big.NewInt(v)}
}

// TextOutput 创建文本输出
func TextOutput(s string) ObservedOutput {
	return ObservedOutput{kind: OutputText, text: s}
}

// ParseObservedOutput 按整数优先的规则解析原始输出
func ParseObservedOutput(raw string) ObservedOutput {
	s := strings.TrimSpace(raw)
	if s == "" {
		return NoOutput()
	}

	if n, ok := parseInteger(s); ok {
		return ObservedOutput{kind: OutputInteger, num: n}
	}
	return ObservedOutput{kind: OutputText, text: s}
}

// parseInteger 解析十进制或0x前缀的十六进制整数
func parseInteger(s string) (*big.Int, bool) {
	neg := false
	body := s
	if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	}
	if body == "" {
		return nil, false
	}

	base := 10
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		base = 16
		body = body[2:]
		if body == "" {
			return nil, false
		}
	}

	n, ok := new(big.Int).SetString(body, base)
	if !ok {
		return nil, false
	}
	if neg {
		n.Neg(n)
	}
	return n, true
}

// Kind 返回输出类型
func (o ObservedOutput) Kind() OutputKind {
	return o.kind
}

// IsZero 检查是否没有记录输出
func (o ObservedOutput) IsZero() bool {
	return o.kind == OutputNone
}

// Integer 返回整数值的副本 (非整数输出返回nil)
func (o ObservedOutput) Integer() *big.Int {
	if o.kind != OutputInteger {
		return nil
	}
	return new(big.Int).Set(o.num)
}

// Equal 比较两个输出是否相同
func (o ObservedOutput) Equal(other ObservedOutput) bool {
	if o.kind != other.kind {
		return false
	}
	switch o.kind {
	case OutputInteger:
		return o.num.Cmp(other.num) == 0
	case OutputText:
		return o.text == other.text
	default:
		return true
	}
}

// String 返回输出的可读形式
func (o ObservedOutput) String() string {
	switch o.kind {
	case OutputInteger:
		return o.num.String()
	case OutputText:
		return o.text
	default:
		return ""
	}
}

// MarshalJSON 实现 json.Marshaler 接口
// 整数输出序列化为JSON数字, 文本为字符串, 空输出为null
func (o ObservedOutput) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case OutputInteger:
		return []byte(o.num.String()), nil
	case OutputText:
		return json.Marshal(o.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (o *ObservedOutput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*o = NoOutput()
		return nil
	}

	// 尝试作为数字解析
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		n, ok := new(big.Int).SetString(num.String(), 10)
		if !ok {
			return fmt.Errorf("无法解析整数输出: %s", num.String())
		}
		*o = ObservedOutput{kind: OutputInteger, num: n}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("既不是数字也不是字符串: %v", err)
	}
	*o = ParseObservedOutput(str)
	return nil
}

// MarshalYAML 实现 yaml.Marshaler 接口 (gopkg.in/yaml.v2)
func (o ObservedOutput) MarshalYAML() (interface{}, error) {
	switch o.kind {
	case OutputInteger:
		if o.num.IsInt64() {
			return o.num.Int64(), nil
		}
		return o.num.String(), nil
	case OutputText:
		return o.text, nil
	default:
		return nil, nil
	}
}
