package oidc

// tokenResponse is the OAuth2 token endpoint reply (RFC 6749 section 5.1), as returned
// by the registration endpoint. Pointer fields distinguish "absent" from "empty".
type tokenResponse struct {
	// AccessToken is the bearer credential. Absent when the account still needs confirmation.
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken carries the identity claims (sub, email) used to build the session user.
	IdToken *string `json:"id_token,omitempty"`

	// TokenType is always "bearer"
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn *int64 `json:"expires_in,omitempty"`

	RefreshToken *string `json:"refresh_token,omitempty"`

	Scope string `json:"scope,omitempty"`
}

// errorResponse is the OAuth2 error body (RFC 6749 section 5.2).
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type registrationRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	ClientID    string `json:"client_id"`
}

// discoveryClaims are the optional provider metadata fields go-oidc does not expose.
type discoveryClaims struct {
	RevocationEndpoint   string `json:"revocation_endpoint"`
	RegistrationEndpoint string `json:"registration_endpoint"`
}
