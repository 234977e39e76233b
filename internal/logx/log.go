package logx

import (
	"fmt"

	"go.uber.org/zap"
)

const prodEnv = "prod"

// New returns a production JSON logger for prod and a development console
// logger otherwise. Every entry carries the app name and env.
func New(name, env string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if env == prodEnv {
		cfg = zap.NewProductionConfig()
	}
	cfg.InitialFields = map[string]interface{}{
		"app": name,
		"env": env,
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("new %s logger: %w", env, err)
	}
	return l, nil
}
