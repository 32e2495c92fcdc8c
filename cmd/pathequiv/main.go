package main

import (
	"errors"
	"fmt"
	"os"
)

// 退出码
const (
	exitEquivalent = 0 // 程序等价
	exitDifferent  = 1 // 不等价或部分等价
	exitError      = 2 // 参数错误或没有可用路径
)

// exitStatus 携带退出码的错误
type exitStatus struct {
	code int
	err  error
}

func (e *exitStatus) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitStatus) Unwrap() error { return e.err }

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		os.Exit(exitEquivalent)
	}

	var status *exitStatus
	if errors.As(err, &status) {
		if status.err != nil {
			fmt.Fprintln(os.Stderr, "error:", status.err)
		}
		os.Exit(status.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitError)
}
