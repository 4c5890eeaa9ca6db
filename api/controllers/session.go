package controllers

import (
	"net/http"

	"github.com/angelmondragon/cantora-backend/api/middleware"
	"github.com/angelmondragon/cantora-backend/api/responses"
	"github.com/angelmondragon/cantora-backend/pkg/auth"
)

type sessionResponse struct {
	UserID string    `json:"userId"`
	Role   auth.Role `json:"role"`
	Admin  bool      `json:"admin"`
}

// Session echoes the identity the access token resolved to. The storefront
// calls it to decide whether staff tooling should be shown.
func Session() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		responses.WriteSuccess(w, sessionResponse{
			UserID: middleware.UserIDFromContext(ctx),
			Role:   middleware.RoleFromContext(ctx),
			Admin:  middleware.IsAdmin(ctx),
		})
	}
}
