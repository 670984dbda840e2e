package market

import (
	"fmt"

	"go.uber.org/zap"
)

// Recover turns a panic inside a public operation into a SYSTEM_ERROR result.
// It must be deferred directly: defer market.Recover(logger, "op", &res).
func Recover(logger *zap.Logger, op string, res *Result) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error("operation panicked", zap.String("op", op), zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
		*res = SystemError()
	}
}
