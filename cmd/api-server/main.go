// Command api-server serves the checkout and coupon HTTP API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	kart "github.com/xenking/kart-checkout/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := kart.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Starting api-server",
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage.Driver),
			zap.Strings("sinks", cfg.Notify.Sinks),
		)
		return kart.Run(ctx, lg, m, cfg)
	})
}
