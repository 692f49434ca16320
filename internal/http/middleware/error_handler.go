package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

// ErrorHandler обрабатывает ошибки централизованно: типизированные AppError
// отдаются со своим статусом, внутренние ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()

		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		var appErr *apperror.AppError
		if errors.As(err.Err, &appErr) {
			body := gin.H{"error": appErr.Message, "code": appErr.Code}
			if appErr.Code == apperror.ErrCodeInsufficientFunds {
				body["required_amount"] = appErr.RequiredAmount
				body["current_balance"] = appErr.CurrentBalance
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		statusCode := http.StatusInternalServerError
		message := "внутренняя ошибка сервера"

		switch {
		case errors.Is(err.Err, repository.ErrUserNotFound):
			statusCode, message = http.StatusNotFound, "пользователь не найден"
		case errors.Is(err.Err, repository.ErrContractNotFound):
			statusCode, message = http.StatusNotFound, "контракт не найден"
		case errors.Is(err.Err, repository.ErrConversationNotFound):
			statusCode, message = http.StatusNotFound, "диалог не найден"
		default:
			errStr := err.Error()
			if !containsInternalKeywords(errStr) {
				message = errStr
			}
		}

		c.JSON(statusCode, gin.H{"error": message})
	}
}

// containsInternalKeywords проверяет, содержит ли строка ключевые слова внутренних ошибок.
func containsInternalKeywords(s string) bool {
	keywords := []string{
		"sql:",
		"database",
		"connection",
		"timeout",
		"internal",
		"panic",
		"runtime",
	}

	for _, keyword := range keywords {
		if strings.Contains(strings.ToLower(s), keyword) {
			return true
		}
	}
	return false
}
