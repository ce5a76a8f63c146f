package callback

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// TokenSource supplies OIDC bearer tokens for authenticated outbound calls
// (callback delivery, Cloud-Tasks-style dispatch confirmation). Two
// concrete sources per spec §4.9: a service-account key file for local/dev
// use, and Application Default Credentials for production, where the
// worker runs under a service identity already scoped to the audience.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// FileTokenSource mints ID tokens from a service-account JSON key file.
type FileTokenSource struct {
	audience     string
	credsFile    string
	tokenSource  oauth2.TokenSource
}

func NewFileTokenSource(ctx context.Context, credsFile, audience string) (*FileTokenSource, error) {
	ts, err := idtoken.NewTokenSource(ctx, audience, idtoken.WithCredentialsFile(credsFile))
	if err != nil {
		return nil, fmt.Errorf("create file-backed OIDC token source: %w", err)
	}
	return &FileTokenSource{audience: audience, credsFile: credsFile, tokenSource: ts}, nil
}

func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := f.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("fetch OIDC id token: %w", err)
	}
	return tok.AccessToken, nil
}

// ADCTokenSource mints ID tokens from Application Default Credentials —
// the metadata server on GCE/Cloud Run/GKE, or GOOGLE_APPLICATION_CREDENTIALS
// when set. This is the production path: the worker's own service identity
// is already scoped to call the callback receiver's audience.
type ADCTokenSource struct {
	audience    string
	tokenSource oauth2.TokenSource
}

func NewADCTokenSource(ctx context.Context, audience string) (*ADCTokenSource, error) {
	ts, err := idtoken.NewTokenSource(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("create ADC-backed OIDC token source: %w", err)
	}
	return &ADCTokenSource{audience: audience, tokenSource: ts}, nil
}

func (a *ADCTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := a.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("fetch OIDC id token: %w", err)
	}
	return tok.AccessToken, nil
}
