package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
)

const ProviderFirebase = "firebase"

// IDTokenVerifier is the part of the Admin SDK auth client the verifier calls.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

type revocationChecker interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens minted for the shop's project.
type FirebaseVerifier struct {
	client       IDTokenVerifier
	timeout      time.Duration
	checkRevoked bool
}

type FirebaseOption func(*FirebaseVerifier)

func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithRevocationCheck also rejects tokens of disabled or signed-out users. It costs one
// extra Admin API call per request.
func WithRevocationCheck() FirebaseOption {
	return func(v *FirebaseVerifier) { v.checkRevoked = true }
}

func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app for %s: %w", projectID, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return NewFirebaseVerifierWithClient(client, opts...), nil
}

func NewFirebaseVerifierWithClient(client IDTokenVerifier, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client, timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*Claims, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	verify := v.client.VerifyIDToken
	if checker, ok := v.client.(revocationChecker); ok && v.checkRevoked {
		verify = checker.VerifyIDTokenAndCheckRevoked
	}
	token, err := verify(ctx, idToken)
	if err != nil {
		return nil, classifyFirebaseError(err)
	}

	email, _ := token.Claims["email"].(string)
	return &Claims{
		Subject:  token.UID,
		Email:    strings.TrimSpace(email),
		Provider: ProviderFirebase,
		Custom:   token.Claims,
	}, nil
}

func classifyFirebaseError(err error) error {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenInvalid(err), firebaseauth.IsIDTokenRevoked(err):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return fmt.Errorf("firebase verify: %w", err)
	}
}
