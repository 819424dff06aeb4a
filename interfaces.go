package adminauth

import "context"

// Backend is the REST API's authentication surface.
// Implementations: rest/ (HTTP), fake/ (testing).
type Backend interface {
	// Login exchanges credentials for a grant.
	Login(ctx context.Context, creds Credentials) (*Grant, error)

	// Refresh issues a new grant for the currently held token.
	Refresh(ctx context.Context, token string) (*Grant, error)

	// Profile returns the profile of the token's owner.
	Profile(ctx context.Context, token string) (*Profile, error)

	// Logout revokes the token server-side.
	Logout(ctx context.Context, token string) error
}

// TokenSink attaches the bearer credential to every outbound call the rest
// of the application makes. Implementation: outbound.Bearer.
type TokenSink interface {
	SetToken(token string)
	ClearToken()
}

// Storage is durable client-side storage for the persisted session.
// Load returns (nil, nil) when nothing is stored.
// Implementations: persist.Memory, persist.File, persist.Redis.
type Storage interface {
	Load(ctx context.Context, namespace string) ([]byte, error)
	Save(ctx context.Context, namespace string, data []byte) error
	Clear(ctx context.Context, namespace string) error
}

// TokenVerifier extracts claims from an access token.
// Implementations: token.Unverified, token.JWKSVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// CapabilityResolver maps a role to the capabilities it grants.
// Implementation: capability.Registry.
type CapabilityResolver interface {
	Grants(role, capability string) bool
}
