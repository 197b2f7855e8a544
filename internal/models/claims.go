package models

import "github.com/golang-jwt/jwt/v5"

// Roles carried in identity claims
const (
	RoleUser     = "user"
	RoleReseller = "reseller"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// IdentityClaims is the already-authenticated identity handed to this service
// by the upstream auth layer. Membership is not re-checked here.
type IdentityClaims struct {
	jwt.RegisteredClaims
	ActorID     string `json:"actor_id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}
