package notifier

import (
	"context"
	"time"

	"github.com/smallbiznis/orderbilling/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const restartBackoff = 5 * time.Second

var Module = fx.Module("notifier",
	fx.Provide(NewProvider),
	fx.Provide(NewHandler),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, sub events.Subscriber, h *Handler, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("notifier consuming", zap.String("broker", sub.Name()), zap.String("provider", h.provider.Name()))
			go func() {
				defer close(done)
				_ = run(ctx, sub, h, log, restartBackoff)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
