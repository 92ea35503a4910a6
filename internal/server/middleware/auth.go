// Package middleware contains HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"procplane/internal/auth"
	"procplane/internal/store"
)

// orgKey is the context key for the authenticated organization.
type orgKey struct{}

// OrgAuth validates the Bearer API key against the stored hash and
// attaches the organization to the request context.
func OrgAuth(orgs store.OrgStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			org, err := orgs.GetOrganizationByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithOrg(r.Context(), org)))
		})
	}
}

// NewContextWithOrg attaches an organization to a context.
func NewContextWithOrg(ctx context.Context, org *store.Organization) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}

// OrgFromContext extracts the authenticated organization.
func OrgFromContext(ctx context.Context) (*store.Organization, bool) {
	org, ok := ctx.Value(orgKey{}).(*store.Organization)
	return org, ok
}
