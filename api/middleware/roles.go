package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/cantora-backend/api/responses"
	"github.com/angelmondragon/cantora-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

// RequireRole admits requests whose token carries one of roles. It must run after Auth.
func RequireRole(logg *logger.Logger, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !slices.Contains(roles, role) {
				ctx := logg.WithField(r.Context(), "required_roles", roles)
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "staff access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
