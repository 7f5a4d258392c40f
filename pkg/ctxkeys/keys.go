// Package ctxkeys defines typed context keys to avoid SA1029 lint warnings
// and prevent key collisions across packages.
package ctxkeys

import (
	"context"
)

// Key is a typed context key to prevent collisions.
type Key string

// Auth context keys
const (
	KeyUserID   Key = "user_id"
	KeyEmail    Key = "email"
	KeyRole     Key = "role"
	KeyJWTToken Key = "jwt_token"
	KeyAuthType Key = "auth_type"
)

// Request context keys
const (
	KeyServiceToken Key = "service_token"
	KeyClientIP     Key = "client_ip"
	KeyRequestPath  Key = "request_path"
	KeyRequestStart Key = "request_start"
)

// GetUserID extracts user_id from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyUserID).(string); ok {
		return v
	}
	return ""
}

// GetEmail extracts email from context.
func GetEmail(ctx context.Context) string {
	if v, ok := ctx.Value(KeyEmail).(string); ok {
		return v
	}
	return ""
}

// GetRole extracts role from context.
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(KeyRole).(string); ok {
		return v
	}
	return ""
}

// GetJWTToken extracts jwt_token from context.
func GetJWTToken(ctx context.Context) string {
	if v, ok := ctx.Value(KeyJWTToken).(string); ok {
		return v
	}
	return ""
}

// GetAuthType extracts auth_type from context.
func GetAuthType(ctx context.Context) string {
	if v, ok := ctx.Value(KeyAuthType).(string); ok {
		return v
	}
	return ""
}

// GetClientIP extracts client_ip from context.
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(KeyClientIP).(string); ok {
		return v
	}
	return ""
}
