package config

import "strings"

type ProviderKind string

const (
	ProviderMock ProviderKind = "mock"
	ProviderOIDC ProviderKind = "oidc"
)

type ProviderConfig interface {
	GetProviderKind() ProviderKind
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRegistrationURL() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

// GetProviderKind selects the identity backend. Anything other than "oidc" falls back to the mock.
func (Provider) GetProviderKind() ProviderKind {
	if ProviderKind(strings.ToLower(GetEnv("AUTH_PROVIDER", string(ProviderMock)))) == ProviderOIDC {
		return ProviderOIDC
	}
	return ProviderMock
}

func (Provider) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER_URL", "")
}

func (Provider) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Provider) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

// GetRegistrationURL is optional; without it Register fails with SIGN_UP_UNSUPPORTED.
func (Provider) GetRegistrationURL() string {
	return GetEnv("OIDC_REGISTRATION_URL", "")
}
