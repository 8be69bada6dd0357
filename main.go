package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/registrywatch/app"
	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib"
	"github.com/fiffu/registrywatch/lib/dispatcher"
	"github.com/fiffu/registrywatch/lib/registry"
	"github.com/fiffu/registrywatch/lib/snapshotter"
	"github.com/fiffu/registrywatch/lib/stream"
	"github.com/fiffu/registrywatch/senders"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	root := &cobra.Command{
		Use:          "registrywatch",
		Short:        "Watch an MCP server registry and notify subscribers of changes",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(), snapshotCommand(), diffCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the poll loop",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(
				fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log}
				}),

				fx.Provide(config.NewConfig),
				fx.Provide(NewLogger),

				fx.Provide(app.NewTransport),
				fx.Provide(app.NewDatabase),
				fx.Provide(app.NewCache),
				fx.Provide(senders.NewSenderRegistry),
				fx.Provide(app.NewSubscriptionStore),
				fx.Provide(registry.NewClient),
				fx.Provide(stream.NewHub),
				fx.Provide(dispatcher.NewDispatcher),
				fx.Provide(snapshotter.NewSnapshotter),
				fx.Provide(lib.NewService),
				fx.Provide(app.NewAPI),

				fx.Invoke(func(*http.Server, *snapshotter.Snapshotter) {}),
			).Run()
		},
	}
}
