package identity

import (
	"fmt"

	"github.com/smallbiznis/orderbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewResolver(cfg config.Config, log *zap.Logger) (Resolver, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeRemote:
		return NewRemoteResolver(cfg.Auth.ServiceURL, cfg.Auth.RequestTimeout, nil, log), nil
	case config.AuthModeJWT, "":
		return NewJWTResolver(cfg.Auth.JWTSecret)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

var Module = fx.Module("identity",
	fx.Provide(NewResolver),
)
