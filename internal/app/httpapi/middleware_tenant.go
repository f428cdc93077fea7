package httpapi

import (
	"context"
	"net/http"

	"github.com/studiodesk/studiodesk/internal/app/services/activation"
	"github.com/studiodesk/studiodesk/internal/app/services/tenants"
	"github.com/studiodesk/studiodesk/internal/middleware"
)

// RoleClient marks principals authenticated with a client portal token.
const RoleClient = "client"

// ownerVerifier accepts owner session JWTs.
func ownerVerifier(svc *tenants.Service) middleware.Verifier {
	return func(_ context.Context, raw string) (middleware.Principal, error) {
		claims, err := svc.ParseToken(raw)
		if err != nil {
			return middleware.Principal{}, err
		}
		return middleware.Principal{ID: claims.Subject, Role: string(claims.Role), OwnerID: claims.Subject}, nil
	}
}

// clientVerifier accepts client activation and login tokens. The principal
// acts within the tenant that owns the client.
func clientVerifier(svc *activation.Service) middleware.Verifier {
	return func(ctx context.Context, raw string) (middleware.Principal, error) {
		c, err := svc.Authenticate(ctx, raw)
		if err != nil {
			return middleware.Principal{}, err
		}
		return middleware.Principal{ID: c.ID, Role: RoleClient, OwnerID: c.OwnerID}, nil
	}
}

// tenantID returns the owner every query of the request is scoped to.
func tenantID(r *http.Request) string {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p.OwnerID
}

// requireOwnerRole keeps client tokens out of owner routes even if a client
// token ever parsed as a JWT.
func requireOwnerRole(next http.Handler) http.Handler {
	return middleware.RequireRole("owner", "staff", "admin")(next)
}
