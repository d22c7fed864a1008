package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Session is the identity established by a completed WebID-OIDC login. It is
// immutable once created: re-login replaces it wholesale, logout deletes it.
type Session struct {
	// IdentityProvider is the issuer URL the session was established against.
	IdentityProvider string `json:"idp"`

	// WebID identifies the logged-in agent.
	WebID string `json:"webId"`

	AccessToken string `json:"accessToken"`
	IDToken     string `json:"idToken"`

	// ClientID is the relying-party client id the tokens were issued to.
	ClientID string `json:"clientId"`

	// SessionKey is the serialized private JWK whose possession
	// proof-of-possession tokens demonstrate.
	SessionKey string `json:"sessionKey"`
}

// RedactedToken replaces token material when a Session is printed.
const RedactedToken = "[REDACTED: token]"

// String redacts the session's tokens and signing key. The real values only
// survive the JSON round trip through the blob.
func (s *Session) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Session{IdentityProvider: %q, WebID: %q, ClientID: %q, AccessToken: %s, IDToken: %s, SessionKey: %s}",
		s.IdentityProvider, s.WebID, s.ClientID, RedactedToken, RedactedToken, RedactedToken)
}

// clone keeps the Store's copy of the session private; callers always receive
// their own copy.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	return &dup
}

// Session returns a copy of the current session, or nil if there is none.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	const op = "Store.Session"
	b, err := s.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b.Session.clone(), nil
}

// SaveSession replaces the stored session wholesale.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	const op = "Store.SaveSession"
	if sess.IdentityProvider == "" {
		return fmt.Errorf("%s: session has no identity provider: %w", op, ErrInvalidParameter)
	}
	_, err := s.Update(ctx, func(b Blob) Blob {
		b.Session = sess.clone()
		return b
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearSession deletes the stored session. Clearing an absent session is not
// an error.
func (s *Store) ClearSession(ctx context.Context) error {
	const op = "Store.ClearSession"
	_, err := s.Update(ctx, func(b Blob) Blob {
		b.Session = nil
		return b
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RPConfig returns the stored relying-party registration, or nil if none has
// been persisted.
func (s *Store) RPConfig(ctx context.Context) (json.RawMessage, error) {
	const op = "Store.RPConfig"
	b, err := s.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b.RPConfig, nil
}

// SaveRPConfig replaces the stored relying-party registration.
func (s *Store) SaveRPConfig(ctx context.Context, cfg json.RawMessage) error {
	const op = "Store.SaveRPConfig"
	_, err := s.Update(ctx, func(b Blob) Blob {
		b.RPConfig = cfg
		return b
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveAppHashFragment records the application's current URL fragment so it
// can be restored after the login round trip replaces it with token material.
func (s *Store) SaveAppHashFragment(ctx context.Context, fragment string) error {
	const op = "Store.SaveAppHashFragment"
	_, err := s.Update(ctx, func(b Blob) Blob {
		b.AppHashFragment = fragment
		return b
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeAppHashFragment returns the saved fragment and removes it from the
// blob in the same update.
func (s *Store) TakeAppHashFragment(ctx context.Context) (string, error) {
	const op = "Store.TakeAppHashFragment"
	var fragment string
	_, err := s.Update(ctx, func(b Blob) Blob {
		fragment = b.AppHashFragment
		b.AppHashFragment = ""
		return b
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return fragment, nil
}
