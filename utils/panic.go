package utils

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// RecoverError turns a panic in the calling goroutine into an error stored in
// errp. It must be deferred directly.
func RecoverError(log *zap.Logger, errp *error) {
	if r := recover(); r != nil {
		log.With(zap.String("stack", string(debug.Stack()))).Error("recovered panic")
		if errp != nil {
			*errp = fmt.Errorf("panic: %v", r)
		}
	}
}
