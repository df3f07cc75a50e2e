package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/transport/apiconv"
	"github.com/cwrk-planet/inquiry-service/pkg/httputil"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (domain.Actor, error)
}

// AuthMiddleware требует Authorization: Bearer <access_token> и кладёт Actor в контекст.
func AuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Verify(r.Context(), BearerToken(r))
			if err != nil {
				code, status := apiconv.ErrorCode(err)
				httputil.Error(r.Context(), w, status, code, "invalid or missing access token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// BearerToken: токен из заголовка Authorization, для WS допускается ?access_token=.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

func ActorFromCtx(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(ctxKeyActor).(domain.Actor)
	return a, ok
}
