package middleware

import (
	"net/http"
	"runtime/debug"

	"riskengine/pkg/utils"
)

// Recovery перехватывает panic в handlers: сервер продолжает обслуживать
// запросы, клиент получает 500, stack trace уходит в лог.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic in handler",
						utils.Any("panic", err),
						utils.String("path", r.URL.Path),
						utils.String("stack", string(debug.Stack())),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
