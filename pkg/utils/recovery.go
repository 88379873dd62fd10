package utils

import (
	"context"
	"fmt"
	"runtime/debug"

	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"go.uber.org/zap"
)

// RecoverFn receives the recovered value and the goroutine stack.
type RecoverFn func(r interface{}, stack []byte)

// SafeGo runs fn on a new goroutine. A panic is handed to onPanic, or logged
// when onPanic is nil.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				logger.Log.Error("[panic] recovered in goroutine",
					zap.Any("panic", r),
					zap.ByteString("stack", stack),
				)
			}
		}()
		fn()
	}()
}

// CallWithRecovery runs fn and converts a panic into an error.
func CallWithRecovery(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error(fmt.Sprintf("[panic] recovered during %s", operation),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic during %s: %v", operation, r)
		}
	}()
	return fn(ctx)
}
