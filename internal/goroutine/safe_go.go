package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
)

// SafeGo запускает горутину с обработкой panic. Используется для
// best-effort побочных эффектов (уведомления, письма, ws-события),
// падение которых не должно ронять основной переход состояния.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithComponent("goroutine").Errorf("panic в горутине: %v\nstack:\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithComponent("goroutine").Errorf("panic в горутине: %v\nstack:\n%s", r, debug.Stack())
			}
		}()
		fn(ctx)
	}()
}
