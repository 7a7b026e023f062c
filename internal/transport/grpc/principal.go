package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
)

const (
	principalEmailKey = "x-principal-email"
	principalRoleKey  = "x-principal-role"
)

// principal is the authenticated caller as forwarded by the gateway in
// front of this service.
type principal struct {
	Email string
	Role  domain.Role
}

// principalFromContext reads the caller from incoming metadata. The role is
// optional; an unknown role leaves Role empty.
func principalFromContext(ctx context.Context) (principal, bool) {
	email := firstMetadataValue(ctx, principalEmailKey)
	if email == "" {
		return principal{}, false
	}
	role, _ := domain.ParseRole(firstMetadataValue(ctx, principalRoleKey))
	return principal{Email: email, Role: role}, true
}

func firstMetadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// WithPrincipal attaches the principal headers to an outgoing call.
func WithPrincipal(ctx context.Context, email string, role domain.Role) context.Context {
	return metadata.AppendToOutgoingContext(ctx, principalEmailKey, email, principalRoleKey, string(role))
}
