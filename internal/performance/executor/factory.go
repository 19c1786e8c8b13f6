package executor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewExecutor creates a new executor of the specified type. An empty type
// selects ramping-vus.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type, logger logrus.FieldLogger) (Executor, error) {
	switch executorType {
	case TypeRampingVUs, "":
		return NewRampingVUs(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config, logger logrus.FieldLogger) (Executor, error) {
	exec, err := NewExecutor(cfg.Type, logger)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}
