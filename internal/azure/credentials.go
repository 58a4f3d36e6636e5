package azure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// relayScope is the Azure AD scope accepted by Service Bus and Relay
const relayScope = "https://servicebus.azure.net/.default"

const tokenRefreshMargin = 5 * time.Minute

// TokenSource hands out credentials for a hybrid connection resource URI
type TokenSource interface {
	Token(ctx context.Context, resourceURI string) (string, error)
}

// SASTokenSource signs a fresh SAS token per request
type SASTokenSource struct {
	KeyName string
	Key     string
	Expiry  time.Duration
}

// Token returns a SAS token for resourceURI
func (s *SASTokenSource) Token(_ context.Context, resourceURI string) (string, error) {
	expiry := s.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return GenerateSASToken(resourceURI, s.KeyName, s.Key, expiry)
}

// AADTokenSource provides Azure AD tokens. It caches the token and
// refreshes it before expiry; the token is namespace-wide so the
// resource URI is ignored.
type AADTokenSource struct {
	credential azcore.TokenCredential
	scope      string
	mu         sync.RWMutex
	token      *azcore.AccessToken
}

// NewAADTokenSource wraps credential, defaulting to DefaultAzureCredential
// (managed identity, Azure CLI, environment variables and so on).
func NewAADTokenSource(credential azcore.TokenCredential) (*AADTokenSource, error) {
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential: %w", err)
		}
		credential = cred
	}
	return &AADTokenSource{credential: credential, scope: relayScope}, nil
}

// Token returns a valid access token, using the cache when possible
func (p *AADTokenSource) Token(ctx context.Context, _ string) (string, error) {
	p.mu.RLock()
	if p.token != nil && time.Until(p.token.ExpiresOn) > tokenRefreshMargin {
		token := p.token.Token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.token != nil && time.Until(p.token.ExpiresOn) > tokenRefreshMargin {
		return p.token.Token, nil
	}

	tokenResponse, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	p.token = &tokenResponse
	return tokenResponse.Token, nil
}

var (
	_ TokenSource = (*SASTokenSource)(nil)
	_ TokenSource = (*AADTokenSource)(nil)
)
