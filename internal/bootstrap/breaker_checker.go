package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

// breakerChecker fails readiness while any upstream breaker is open.
type breakerChecker struct {
	executor *resilience.Executor
}

func (c breakerChecker) Name() string { return "circuit_breakers" }

func (c breakerChecker) Ping(context.Context) error {
	if open := c.executor.OpenOperations(); len(open) > 0 {
		return fmt.Errorf("open circuit breakers: %s", strings.Join(open, ", "))
	}
	return nil
}
