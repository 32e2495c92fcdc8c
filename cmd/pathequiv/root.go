package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pathequiv/pkg/equiv"
	"pathequiv/pkg/report"
)

// app 所有子命令共享的状态
type app struct {
	configPath    string
	workers       int
	timeout       time.Duration
	addressPolicy string
	oracle        string
	pattern       string
	ignoreOutputs bool
	verbose       bool
	noColor       bool
	format        string
	output        string

	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "pathequiv",
		Short:         "Layered equivalence checker for symbolic execution paths",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (checker: section)")
	flags.IntVar(&a.workers, "workers", 0, "Concurrent comparisons (0 keeps the config value)")
	flags.DurationVar(&a.timeout, "timeout", 0, "Per-comparison oracle timeout (0 keeps the config value)")
	flags.StringVar(&a.addressPolicy, "address-policy", "", "Memory address policy: relative or absolute")
	flags.StringVar(&a.oracle, "oracle", "", "Tie-break oracle: none, sampling, z3 or hybrid")
	flags.StringVar(&a.pattern, "pattern", "", "Glob for path files inside a program directory")
	flags.BoolVar(&a.ignoreOutputs, "ignore-outputs", false, "Do not compare observed program outputs")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	flags.StringVarP(&a.format, "format", "f", "text", "Output format: text, json, yaml or csv")
	flags.StringVarP(&a.output, "output", "o", "", "Write the report to a file instead of stdout")

	root.AddCommand(
		newCompareCommand(a),
		newPairCommand(a),
		newInspectCommand(a),
		newHistoryCommand(a),
	)
	return root
}

// setup 初始化日志与颜色
func (a *app) setup() error {
	var err error
	if a.verbose {
		a.logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		a.logger, err = cfg.Build()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	// 仅在输出到终端时着色
	if a.noColor || a.output != "" || !(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return nil
}

// config 读取配置文件并应用命令行覆盖
func (a *app) config(cmd *cobra.Command) (*equiv.Config, error) {
	cfg := equiv.DefaultConfig()
	if a.configPath != "" {
		loaded, err := equiv.LoadConfig(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("timeout") {
		cfg.ComparisonTimeout = a.timeout.String()
	}
	if flags.Changed("address-policy") {
		cfg.AddressPolicy = a.addressPolicy
	}
	if flags.Changed("oracle") {
		cfg.Oracle.Strategy = a.oracle
	}
	if flags.Changed("pattern") {
		cfg.FilePattern = a.pattern
	}
	if flags.Changed("ignore-outputs") {
		cfg.IgnoreOutputs = a.ignoreOutputs
	}

	cfg.MergeWithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reportFormat 解析 --format
func (a *app) reportFormat() (report.Format, error) {
	return report.ParseFormat(a.format)
}

// writer 返回输出目标, 调用方负责关闭
func (a *app) writer() (io.WriteCloser, error) {
	if a.output == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(a.output)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// usageError 参数错误使用退出码2
func usageError(err error) error {
	return &exitStatus{code: exitError, err: err}
}
