package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hedger/internal/app"
	"hedger/internal/config"
	"hedger/internal/log"
	"hedger/internal/store"
)

var (
	configPath string
	paperMode  bool

	hedgeTarget   float64
	hedgeSlippage float64
	hedgePartial  bool
	hedgeTWAP     bool
)

var rootCmd = &cobra.Command{
	Use:           "hedger",
	Short:         "多场所 delta 对冲执行引擎",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动监控接口与敞口巡检",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var hedgeCmd = &cobra.Command{
	Use:   "hedge SYMBOL",
	Short: "执行一次对冲并输出 JSON 记录",
	Args:  cobra.ExactArgs(1),
	RunE:  runHedge,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	rootCmd.PersistentFlags().BoolVar(&paperMode, "paper", false, "使用模拟撮合场所")

	hedgeCmd.Flags().Float64Var(&hedgeTarget, "target", 0, "目标 delta，默认取 risk.target_delta")
	hedgeCmd.Flags().Float64Var(&hedgeSlippage, "max-slippage", 0, "最大滑点，默认取 execution.default_max_slippage")
	hedgeCmd.Flags().BoolVar(&hedgePartial, "partial", true, "允许拆分为多批")
	hedgeCmd.Flags().BoolVar(&hedgeTWAP, "twap", true, "按 TWAP 间隔逐批执行")

	rootCmd.AddCommand(serveCmd, hedgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

type session struct {
	app    *app.App
	logger *zap.Logger
	close  func()
}

func bootstrap(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if paperMode {
		cfg.Paper.Enabled = true
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	closeFn := func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
		_ = logger.Sync()
	}

	hedgeApp, err := app.New(ctx, cfg, logger, sqliteStore)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &session{app: hedgeApp, logger: logger, close: closeFn}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.app.Run(ctx); err != nil {
		rt.logger.Error("系统运行异常", zap.Error(err))
		return err
	}

	rt.logger.Info("系统已安全退出")
	return nil
}

func runHedge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	req := rt.app.DefaultRequest(strings.ToUpper(strings.TrimSpace(args[0])))
	flags := cmd.Flags()
	if flags.Changed("target") {
		req.TargetDelta = hedgeTarget
	}
	if flags.Changed("max-slippage") {
		req.MaxSlippage = hedgeSlippage
	}
	if flags.Changed("partial") {
		req.Partial = hedgePartial
	}
	if flags.Changed("twap") {
		req.TWAP = hedgeTWAP
	}

	summary, hedgeErr := rt.app.Hedge(ctx, req)
	if summary.ExecutionID != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("输出执行记录失败: %w", err)
		}
	}
	return hedgeErr
}
