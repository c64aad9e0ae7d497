package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// CurrentUser returns the authenticated user and whether they are staff.
func CurrentUser(ctx context.Context) (uuid.UUID, bool, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false, false
	}
	return id, RoleFromContext(ctx) == string(enums.UserRoleStaff), true
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
