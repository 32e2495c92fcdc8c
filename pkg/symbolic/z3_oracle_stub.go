//go:build !z3
// +build !z3

package symbolic

import (
	"context"
	"errors"
	"time"
)

// Z3Oracle z3判定器 (stub版本 - 未启用z3)
type Z3Oracle struct{}

// NewZ3Oracle 创建z3判定器 (stub - 返回错误)
func NewZ3Oracle(timeout time.Duration) (*Z3Oracle, error) {
	return nil, errors.New("z3 oracle not available - rebuild with '-tags z3' to enable")
}

func (o *Z3Oracle) Name() string { return StrategyZ3 }

// Equisatisfiable stub - 总是返回错误
func (o *Z3Oracle) Equisatisfiable(ctx context.Context, a, b *Path) (bool, error) {
	return false, ErrOracleUnsupported
}
