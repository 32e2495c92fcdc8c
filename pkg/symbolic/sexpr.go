package symbolic

import (
	"fmt"
	"strings"
)

// sexpr S表达式节点: 原子或列表
type sexpr struct {
	atom   string
	list   []*sexpr
	isList bool
	line   int
}

func (s *sexpr) head() string {
	if !s.isList || len(s.list) == 0 || s.list[0].isList {
		return ""
	}
	return s.list[0].atom
}

func (s *sexpr) String() string {
	if !s.isList {
		return s.atom
	}
	parts := make([]string, len(s.list))
	for i, item := range s.list {
		parts[i] = item.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// syntaxError 词法/语法错误, 由解析器转换为ParseError
type syntaxError struct {
	line int
	msg  string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

// readSexprs 读取所有顶层S表达式
// 支持 ; 行注释和 |quoted| 符号
func readSexprs(src string) ([]*sexpr, error) {
	r := &sexprReader{src: src, line: 1}
	var out []*sexpr
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return out, nil
		}
		node, err := r.read()
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
}

type sexprReader struct {
	src  string
	pos  int
	line int
}

func (r *sexprReader) skipSpace() {
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch {
		case c == '\n':
			r.line++
			r.pos++
		case c == ' ' || c == '\t' || c == '\r':
			r.pos++
		case c == ';':
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
		default:
			return
		}
	}
}

func (r *sexprReader) read() (*sexpr, error) {
	r.skipSpace()
	if r.pos >= len(r.src) {
		return nil, &syntaxError{line: r.line, msg: "unexpected end of input"}
	}

	start := r.line
	switch r.src[r.pos] {
	case '(':
		r.pos++
		node := &sexpr{isList: true, line: start}
		for {
			r.skipSpace()
			if r.pos >= len(r.src) {
				return nil, &syntaxError{line: start, msg: "unbalanced parenthesis"}
			}
			if r.src[r.pos] == ')' {
				r.pos++
				return node, nil
			}
			child, err := r.read()
			if err != nil {
				return nil, err
			}
			node.list = append(node.list, child)
		}
	case ')':
		return nil, &syntaxError{line: r.line, msg: "unexpected ')'"}
	case '|':
		end := strings.IndexByte(r.src[r.pos+1:], '|')
		if end < 0 {
			return nil, &syntaxError{line: start, msg: "unterminated quoted symbol"}
		}
		text := r.src[r.pos+1 : r.pos+1+end]
		r.line += strings.Count(text, "\n")
		r.pos += end + 2
		return &sexpr{atom: text, line: start}, nil
	case '"':
		end := strings.IndexByte(r.src[r.pos+1:], '"')
		if end < 0 {
			return nil, &syntaxError{line: start, msg: "unterminated string literal"}
		}
		text := r.src[r.pos : r.pos+end+2]
		r.line += strings.Count(text, "\n")
		r.pos += end + 2
		return &sexpr{atom: text, line: start}, nil
	}

	begin := r.pos
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == '(' || c == ')' || c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ';' {
			break
		}
		r.pos++
	}
	return &sexpr{atom: r.src[begin:r.pos], line: start}, nil
}
