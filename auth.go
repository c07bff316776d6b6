package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/go-autorest/autorest/adal"
)

// SASLType selects the SASL mechanism negotiated during Open (§1 Non-goals:
// the SASL wire layer itself is out of scope, but a concrete identity
// provider is still wired into the engine's CBS support).
type SASLType func() (mechanism string, respond func(challenge []byte) ([]byte, error), err error)

// SASLTypeAnonymous negotiates the ANONYMOUS mechanism: no credentials are
// exchanged.
func SASLTypeAnonymous() SASLType {
	return func() (string, func([]byte) ([]byte, error), error) {
		return "ANONYMOUS", func([]byte) ([]byte, error) { return nil, nil }, nil
	}
}

// TokenProvider supplies the bearer tokens used by the Claims-Based-Security
// (CBS) extension: a $cbs management link that exchanges a token for
// temporary authorization to a node, layered on top of the core engine
// rather than baked into it (§4.1 domain stack).
type TokenProvider interface {
	// Token returns a bearer token valid for audience, refreshing it first
	// if it's at or past its refresh window.
	Token(ctx context.Context, audience string) (token string, expiry time.Time, err error)
}

// aadTokenProvider implements TokenProvider on top of an Azure AD service
// principal, using adal's refreshing service principal token so token
// refresh follows the same retry/backoff policy as the rest of the Azure Go
// ecosystem.
type aadTokenProvider struct {
	spt *adal.ServicePrincipalToken
}

// NewAADTokenProvider builds a TokenProvider backed by a client-credentials
// (service principal) OAuth flow against tenantID, refreshed automatically
// by adal as it nears expiry.
func NewAADTokenProvider(tenantID, clientID, clientSecret, resource string) (TokenProvider, error) {
	oauthConfig, err := adal.NewOAuthConfig(azureActiveDirectoryEndpoint, tenantID)
	if err != nil {
		return nil, fmt.Errorf("amqp: building AAD OAuth config: %w", err)
	}

	spt, err := adal.NewServicePrincipalToken(*oauthConfig, clientID, clientSecret, resource)
	if err != nil {
		return nil, fmt.Errorf("amqp: building service principal token: %w", err)
	}

	return &aadTokenProvider{spt: spt}, nil
}

const azureActiveDirectoryEndpoint = "https://login.microsoftonline.com/"

func (a *aadTokenProvider) Token(ctx context.Context, audience string) (string, time.Time, error) {
	if err := a.spt.EnsureFreshWithContext(ctx); err != nil {
		return "", time.Time{}, fmt.Errorf("amqp: refreshing CBS token for %q: %w", audience, err)
	}
	token := a.spt.Token()
	return token.AccessToken, token.Expires(), nil
}
