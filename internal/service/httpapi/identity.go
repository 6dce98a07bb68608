package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// Заголовки идентификации; аутентификацию выполняет gateway перед сервисом.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderAdminID   = "X-Admin-ID"
)

type ctxKey int

const (
	buyerKey ctxKey = iota
	adminKey
)

// RequireBuyer кладёт domain.Buyer в контекст; без X-User-ID отвечает 401.
func RequireBuyer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buyer := domain.Buyer{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Email:  strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
			Name:   strings.TrimSpace(r.Header.Get(HeaderUserName)),
		}
		if buyer.UserID == "" {
			WriteError(r.Context(), w, NewError("unauthenticated", HeaderUserID+" header is required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), buyerKey, buyer)))
	})
}

// RequireAdmin кладёт идентификатор сотрудника в контекст; без X-Admin-ID отвечает 401.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID := strings.TrimSpace(r.Header.Get(HeaderAdminID))
		if adminID == "" {
			WriteError(r.Context(), w, NewError("unauthenticated", HeaderAdminID+" header is required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, adminID)))
	})
}

func buyerFrom(ctx context.Context) domain.Buyer {
	buyer, _ := ctx.Value(buyerKey).(domain.Buyer)
	return buyer
}

func adminFrom(ctx context.Context) string {
	id, _ := ctx.Value(adminKey).(string)
	return id
}
