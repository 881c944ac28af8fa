// Package main 是 AgentResume 的 CLI 入口
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KodaTao/AgentResume/pkg/app"
	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/observability"
	"github.com/KodaTao/AgentResume/pkg/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "AgentResume - self-scheduling conversation continuations",
		Long: `AgentResume lets an agent pause a conversation and resume it later.
Conversations are snapshotted in memory and resumed by a one-shot timer.`,
		SilenceUsage: true,
	}

	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	// 添加子命令
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCmd 启动 HTTP 服务器
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the AgentResume HTTP server to manage threads and scheduled continuations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 加载配置
			v, config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数覆盖配置
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			// 创建应用
			a := app.New(app.WithConfig(*config))
			a.SetResponder(app.EchoResponder(nil))

			// 初始化
			if err := a.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer func() {
				if err := a.Shutdown(); err != nil {
					observability.Error("Shutdown failed", "error", err)
				}
			}()

			watchConfig(v)

			// 创建 HTTP 服务器
			metricsPath := ""
			if config.Observability.Metrics.Enabled {
				metricsPath = config.Observability.Metrics.Path
			}
			srv := server.NewServer(a, &server.ServerConfig{
				Host:        config.Server.Host,
				Port:        config.Server.Port,
				Mode:        config.Server.Mode,
				MetricsPath: metricsPath,
			})

			// 优雅关闭
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")

	return cmd
}

// demoCmd 演示一次完整的暂停与恢复
func demoCmd() *cobra.Command {
	var after time.Duration
	var reason string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Schedule a check-in and wait for it",
		Long: `Start a conversation, let the reschedule_after function schedule a check-in,
then wait until the continuation has run or the process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if after <= 0 {
				return fmt.Errorf("--after must be positive, got %s", after)
			}

			_, config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			a := app.New(app.WithConfig(*config))
			a.SetResponder(app.EchoResponder(nil))
			if err := a.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer func() {
				if err := a.Shutdown(); err != nil {
					observability.Error("Shutdown failed", "error", err)
				}
			}()

			userMessage := fmt.Sprintf("Please check in with me in %s.", after)
			threadID, err := a.StartConversation(userMessage)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] user: %s\n", threadID, userMessage)

			// 模拟 Agent 调用重新调度函数
			ctx := continuation.WithThreadID(cmd.Context(), threadID)
			resp := a.GetExecutor().Execute(ctx, function.ExecuteRequest{
				FunctionName: "reschedule_after",
				Params: map[string]any{
					"seconds": int(after.Seconds()),
					"reason":  reason,
				},
			})
			if resp.Error != nil {
				return resp.Error
			}
			fmt.Printf("[%s] tool: %s\n", threadID, resp.Result.Message)

			// 等待唤醒执行完毕或收到中断信号
			waitCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.Wait(waitCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Println("Interrupted, pending continuations cancelled.")
					return nil
				}
				return err
			}

			snapshot, ok := a.GetCoordinator().GetState(threadID)
			if !ok {
				return fmt.Errorf("thread %s lost its state", threadID)
			}
			for _, msg := range snapshot.Messages[1:] {
				fmt.Printf("[%s] %s: %s\n", threadID, msg.Role, msg.Content)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&after, "after", 5*time.Second, "Delay before the check-in (whole seconds)")
	cmd.Flags().StringVar(&reason, "reason", "the user asked for a check-in", "Reason recorded with the continuation")

	return cmd
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("AgentResume v0.1.0")
			fmt.Println("Self-scheduling conversation continuations for Go agents")
		},
	}
}

// loadConfig 加载配置文件
func loadConfig() (*viper.Viper, *app.Config, error) {
	v := viper.New()

	// 设置默认值
	defaults := app.DefaultConfig()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.mode", defaults.Server.Mode)

	v.SetDefault("scheduler.timezone", defaults.Scheduler.Timezone)
	v.SetDefault("scheduler.job_timeout", defaults.Scheduler.JobTimeout)
	v.SetDefault("scheduler.drain_timeout", defaults.Scheduler.DrainTimeout)

	v.SetDefault("continuation.policy", defaults.Continuation.Policy)
	v.SetDefault("continuation.janitor_spec", defaults.Continuation.JanitorSpec)
	v.SetDefault("continuation.idle_ttl", defaults.Continuation.IdleTTL)
	v.SetDefault("continuation.journal_retention", defaults.Continuation.JournalRetention)

	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("database.log_mode", defaults.Database.LogMode)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.output", defaults.Log.Output)

	v.SetDefault("observability.metrics.enabled", defaults.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.path", defaults.Observability.Metrics.Path)
	v.SetDefault("observability.tracing.enabled", defaults.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.service_name", defaults.Observability.Tracing.ServiceName)
	v.SetDefault("observability.tracing.stdout", defaults.Observability.Tracing.Stdout)

	// 配置文件
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.agentresume")
	}

	// 环境变量，如 AC_LOG_LEVEL 对应 log.level
	v.SetEnvPrefix("AC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件（如果存在）
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
		// 配置文件不存在时使用默认值
	}

	// 解析配置
	config := &app.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, nil, err
	}

	return v, config, nil
}

// watchConfig 监听配置文件变化，热更新日志级别
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		previous := observability.SetLevel(v.GetString("log.level"))
		observability.Info("Config reloaded",
			"file", e.Name,
			"previous_level", previous.String(),
			"log_level", observability.CurrentLevel().String(),
		)
	})
	v.WatchConfig()
}
