package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pathequiv/pkg/equiv"
	"pathequiv/pkg/report"
)

func newCompareCommand(a *app) *cobra.Command {
	var (
		storeDir    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "compare DIR_A DIR_B",
		Short: "Compare the symbolic paths of two programs",
		Long: `Compare every path file under DIR_A with every path file under DIR_B,
match paths one-to-one and print the program-level verdict.

Exit status is 0 when the programs are equivalent, 1 when they are not
(or only partially) equivalent and 2 on errors.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.reportFormat()
			if err != nil {
				return usageError(err)
			}
			cfg, err := a.config(cmd)
			if err != nil {
				return usageError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []equiv.Option{equiv.WithLogger(a.logger)}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts = append(opts, equiv.WithMetrics(equiv.NewMetrics(reg)))
				shutdown := serveMetrics(metricsAddr, reg, a.logger)
				defer shutdown()
			}

			checker, err := equiv.NewChecker(cfg, opts...)
			if err != nil {
				return usageError(err)
			}

			r, err := checker.CompareDirs(ctx, args[0], args[1])
			if err != nil {
				var unavailable *equiv.UnavailableError
				if errors.As(err, &unavailable) {
					return &exitStatus{code: exitError, err: err}
				}
				return err
			}

			if storeDir != "" {
				if err := saveReport(storeDir, r, a.logger); err != nil {
					// 存储失败不影响判定结果
					a.logger.Error("[CLI] failed to save report", zap.String("store", storeDir), zap.Error(err))
				}
			}

			if err := a.emit(r, format); err != nil {
				return err
			}
			return verdictStatus(r)
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "", "Save the report into this history store")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while comparing")
	return cmd
}

// emit 按格式输出报告
func (a *app) emit(r *equiv.Report, format report.Format) error {
	w, err := a.writer()
	if err != nil {
		return err
	}
	if err := report.Render(w, r, format); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// verdictStatus 程序级判定对应的退出码
func verdictStatus(r *equiv.Report) error {
	if r.Summary.Verdict == equiv.ProgramEquivalent {
		return nil
	}
	return &exitStatus{code: exitDifferent}
}

func saveReport(dir string, r *equiv.Report, logger *zap.Logger) error {
	store, err := report.OpenStore(dir, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Put(r)
}

// serveMetrics 在后台暴露 /metrics, 返回关闭函数
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("[CLI] serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[CLI] metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
