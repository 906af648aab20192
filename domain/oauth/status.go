package oauth

// Status represents the lifecycle state of an authorization or token.
// The backing store keeps it as a plain string attribute; the constants
// below form the closed set the cascade engine reasons about.
type Status string

const (
	StatusValid    Status = "valid"
	StatusInactive Status = "inactive"
	StatusRevoked  Status = "revoked"
	StatusRedeemed Status = "redeemed"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Retained reports whether the status keeps the record alive until its
// natural expiration. Anything outside this set schedules early expiry.
func (s Status) Retained() bool {
	return s == StatusValid || s == StatusInactive
}

// AuthorizationType discriminates one-off consent grants from permanent ones.
type AuthorizationType string

const (
	AuthorizationTypeAdHoc     AuthorizationType = "ad-hoc"
	AuthorizationTypePermanent AuthorizationType = "permanent"
)

// ApplicationType mirrors the OAuth client profile.
type ApplicationType string

const (
	ApplicationTypeConfidential ApplicationType = "confidential"
	ApplicationTypePublic       ApplicationType = "public"
)

// RedirectKind tags a redirect shadow record with the list it came from.
type RedirectKind string

const (
	RedirectKindRedirect   RedirectKind = "RedirectUri"
	RedirectKindPostLogout RedirectKind = "PostLogoutRedirectUri"
)

// ScopeLookupKind tags a scope shadow record with the attribute it indexes.
type ScopeLookupKind string

const (
	ScopeLookupKindName     ScopeLookupKind = "Name"
	ScopeLookupKindResource ScopeLookupKind = "Resource"
)
