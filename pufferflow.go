// Package pufferflow provides a top-level convenience entry point for
// assembling the full resilient pipeline from a single configuration.
//
// Usage:
//
//	import "github.com/BaSui01/pufferflow"
//
//	cfg := config.DefaultConfig()
//	cfg.Turbopuffer.APIKey = os.Getenv("TURBOPUFFER_API_KEY")
//	cfg.Turbopuffer.Namespace = "prod-docs"
//
//	client, err := pufferflow.New(cfg)
//	defer client.Close()
//
// This is a thin wrapper around the config and store packages; use them
// directly when you need a custom Service implementation or options.
package pufferflow

import (
	"fmt"

	"github.com/BaSui01/pufferflow/config"
	"github.com/BaSui01/pufferflow/store"
	"go.uber.org/zap"
)

// New 按配置装配完整管线：Turbopuffer 服务 + 弹性批量客户端。
// logger 为空时按 cfg.Log 构造。
func New(cfg *config.Config, opts ...store.Option) (*store.Client, error) {
	return NewWithLogger(cfg, nil, opts...)
}

// NewWithLogger 与 New 相同，但使用调用方提供的 logger。
func NewWithLogger(cfg *config.Config, logger *zap.Logger, opts ...store.Option) (*store.Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		var err error
		logger, err = cfg.Log.BuildLogger()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	service, err := store.NewTurbopufferService(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, err
	}

	if cfg.DeadLetter.Enabled {
		sink, err := store.NewRedisDeadLetter(cfg.DeadLetterSinkConfig())
		if err != nil {
			return nil, fmt.Errorf("connect dead letter sink: %w", err)
		}
		opts = append(opts, store.WithDeadLetter(sink))
	}

	return store.NewClient(service, cfg.ClientConfig(), logger, opts...), nil
}
