package mmbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dteixeira/mmbridge/pkg/bridge"
	"github.com/dteixeira/mmbridge/pkg/channels"
	"github.com/dteixeira/mmbridge/pkg/channels/feishu"
	"github.com/dteixeira/mmbridge/pkg/channels/qq"
	"github.com/dteixeira/mmbridge/pkg/config"
	"github.com/dteixeira/mmbridge/pkg/gateway"
	"github.com/dteixeira/mmbridge/pkg/history"
	"github.com/dteixeira/mmbridge/pkg/llm"
	"github.com/dteixeira/mmbridge/pkg/media"
	"github.com/dteixeira/mmbridge/pkg/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mmbridge gateway and channel adapters",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, nil)
	logger.Info("starting mmbridge",
		slog.String("version", version),
		slog.Int("port", cfg.Gateway.Port),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "mmbridge",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	cache, err := media.NewStore(cfg.Media.Dir, logger)
	if err != nil {
		return fmt.Errorf("opening media store: %w", err)
	}

	store, err := history.New(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	invoker, err := llm.NewOpenAIInvoker(llm.OpenAIConfig{
		APIKey:       os.Getenv(cfg.Model.APIKeyEnv),
		BaseURL:      cfg.Model.BaseURL,
		Model:        cfg.Model.Model,
		SystemPrompt: cfg.Model.SystemPrompt,
		MaxTokens:    cfg.Model.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("configuring model: %w", err)
	}

	var adapters []channels.Adapter
	webhooks := make(map[string]http.Handler)

	if cfg.Channels.QQ.Enabled {
		qqAdapter, err := qq.New(qq.Config{
			AppID:               cfg.Channels.QQ.AppID,
			Secret:              cfg.Channels.QQ.Secret,
			MediaUploadCommand:  cfg.Channels.QQ.MediaUploadCommand,
			MediaUploadTimeoutS: cfg.Channels.QQ.MediaUploadTimeoutS,
		}, cache, logger)
		if err != nil {
			return fmt.Errorf("configuring qq adapter: %w", err)
		}
		adapters = append(adapters, qqAdapter)
	}

	if cfg.Channels.Feishu.Enabled {
		fsAdapter, err := feishu.New(feishu.Config{
			AppID:             cfg.Channels.Feishu.AppID,
			AppSecret:         cfg.Channels.Feishu.AppSecret,
			VerificationToken: cfg.Channels.Feishu.VerificationToken,
		}, cache, logger)
		if err != nil {
			return fmt.Errorf("configuring feishu adapter: %w", err)
		}
		adapters = append(adapters, fsAdapter)
		webhooks["feishu"] = fsAdapter.WebhookHandler()
	}

	if len(adapters) == 0 {
		return fmt.Errorf("no channels enabled; enable channels.qq or channels.feishu")
	}

	policy := bridge.NewRecallPolicy(cfg.Recall.DeicticCues, cfg.Recall.ActionCues)
	loop := bridge.NewLoop(store, cache, invoker, policy, cfg.Recall.RecentImageLimit, adapters, logger)

	for _, adapter := range adapters {
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("starting %s adapter: %w", adapter.Name(), err)
		}
	}
	loop.Start(ctx)

	gw := gateway.New(gateway.Config{
		Bind:     cfg.Gateway.Bind,
		Port:     cfg.Gateway.Port,
		Logger:   logger,
		Webhooks: webhooks,
	})

	err = gw.Start(ctx)

	for _, adapter := range adapters {
		if stopErr := adapter.Stop(context.Background()); stopErr != nil {
			logger.Warn("adapter stop failed",
				slog.String("channel", adapter.Name()),
				slog.String("err", stopErr.Error()),
			)
		}
	}

	logger.Info("mmbridge stopped")
	return err
}
