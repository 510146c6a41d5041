// Package auth supplies Authorization header providers for the transport
// client. Providers return the complete header value; caching and
// invalidation on 401 are the client's job.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nghyane/odata-batch/internal/transport"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	TypeStatic            = "static"
	TypeClientCredentials = "client-credentials"
)

// azureTokenURL is the v2 token endpoint used when only a tenant is given.
const azureTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// Options selects and configures a provider.
type Options struct {
	Type string

	// Header is the literal Authorization value for TypeStatic.
	Header string

	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Resource is the service root the token is for. When Scopes is empty the
	// scope defaults to "<scheme>://<host>/.default".
	Resource string

	HTTPClient *http.Client
}

// New builds the provider described by opts. An empty Type returns a nil
// provider, meaning requests go out without Authorization.
func New(opts Options) (transport.AuthHeaderFunc, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case "":
		return nil, nil
	case TypeStatic:
		if opts.Header == "" {
			return nil, errors.New("auth: static provider requires a header value")
		}
		return Static(opts.Header), nil
	case TypeClientCredentials:
		return ClientCredentials(opts)
	default:
		return nil, fmt.Errorf("auth: unknown provider type %q", opts.Type)
	}
}

// Static always returns header.
func Static(header string) transport.AuthHeaderFunc {
	return func(context.Context) (string, error) {
		return header, nil
	}
}

// ClientCredentials exchanges a client id and secret for a bearer token. Each
// call requests a new token: the client only calls again after a 401, and a
// token the store rejected must not come back from a local cache.
func ClientCredentials(opts Options) (transport.AuthHeaderFunc, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("auth: client-credentials requires client id and secret")
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		if opts.TenantID == "" {
			return nil, errors.New("auth: client-credentials requires a token url or tenant id")
		}
		tokenURL = fmt.Sprintf(azureTokenURL, opts.TenantID)
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scope, err := defaultScope(opts.Resource)
		if err != nil {
			return nil, err
		}
		scopes = []string{scope}
	}

	conf := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	httpClient := opts.HTTPClient

	return func(ctx context.Context) (string, error) {
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		tok, err := conf.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("auth: client-credentials token: %w", err)
		}
		return tok.Type() + " " + tok.AccessToken, nil
	}, nil
}

func defaultScope(resource string) (string, error) {
	if resource == "" {
		return "", errors.New("auth: client-credentials requires scopes or a resource url")
	}
	scheme, rest, ok := strings.Cut(resource, "://")
	if !ok || rest == "" {
		return "", fmt.Errorf("auth: invalid resource url %q", resource)
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/.default", nil
}
