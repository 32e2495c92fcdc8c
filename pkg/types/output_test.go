package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestParseObservedOutput(t *testing.T) {
	tests := []struct {
		raw  string
		kind OutputKind
		str  string
	}{
		{"", OutputNone, ""},
		{"   ", OutputNone, ""},
		{"42", OutputInteger, "42"},
		{" -7\n", OutputInteger, "-7"},
		{"0x2a", OutputInteger, "42"},
		{"-0X10", OutputInteger, "-16"},
		{"0x", OutputText, "0x"},
		{"-", OutputText, "-"},
		{"hello world", OutputText, "hello world"},
		{"12abc", OutputText, "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			o := ParseObservedOutput(tt.raw)
			assert.Equal(t, tt.kind, o.Kind())
			assert.Equal(t, tt.str, o.String())
		})
	}
}

func TestObservedOutput_Equal(t *testing.T) {
	assert.True(t, ParseObservedOutput("0x2a").Equal(IntegerOutput(42)), "hex and decimal agree")
	assert.True(t, NoOutput().Equal(ParseObservedOutput("")))
	assert.True(t, TextOutput("ok").Equal(ParseObservedOutput(" ok ")))
	assert.False(t, IntegerOutput(1).Equal(IntegerOutput(2)))
	assert.False(t, TextOutput("1").Equal(IntegerOutput(1)), "kinds differ")
	assert.False(t, NoOutput().Equal(IntegerOutput(0)))
	assert.True(t, NoOutput().IsZero())
	assert.False(t, IntegerOutput(0).IsZero())
}

func TestObservedOutput_IntegerCopy(t *testing.T) {
	o := IntegerOutput(5)
	n := o.Integer()
	n.Add(n, big.NewInt(1))
	assert.Equal(t, "5", o.String(), "Integer returns a copy")
	assert.Nil(t, TextOutput("x").Integer())
}

func TestObservedOutput_JSON(t *testing.T) {
	type wrapper struct {
		Output ObservedOutput `json:"output"`
	}

	tests := []struct {
		name string
		in   ObservedOutput
		json string
	}{
		{"integer", IntegerOutput(-3), `{"output":-3}`},
		{"text", TextOutput("done"), `{"output":"done"}`},
		{"none", NoOutput(), `{"output":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(wrapper{Output: tt.in})
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			var back wrapper
			require.NoError(t, json.Unmarshal(data, &back))
			assert.True(t, tt.in.Equal(back.Output))
		})
	}

	// 字符串形式的整数按整数处理
	var o ObservedOutput
	require.NoError(t, json.Unmarshal([]byte(`"0x10"`), &o))
	assert.Equal(t, OutputInteger, o.Kind())
	assert.Equal(t, "16", o.String())

	assert.Error(t, json.Unmarshal([]byte(`1.5`), &o))
	assert.Error(t, json.Unmarshal([]byte(`true`), &o))
}

func TestObservedOutput_YAML(t *testing.T) {
	data, err := yaml.Marshal(map[string]ObservedOutput{"a": IntegerOutput(7), "b": TextOutput("x")})
	require.NoError(t, err)
	assert.Contains(t, string(data), "a: 7")
	assert.Contains(t, string(data), "b: x")
}
