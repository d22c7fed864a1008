package webidoidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// registrationMetadata is the RFC 7591 document posted to the issuer's
// registration endpoint. WebID-OIDC relying parties use the implicit flow
// and receive both an id_token and an access token in the fragment.
type registrationMetadata struct {
	Issuer        string   `json:"issuer,omitempty"`
	GrantTypes    []string `json:"grant_types"`
	RedirectURIs  []string `json:"redirect_uris"`
	ResponseTypes []string `json:"response_types"`
	Scope         string   `json:"scope"`
}

// registrationResponse is the subset of the registration response we keep.
type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// registerClient performs dynamic client registration. Registration is
// idempotent on the issuer side, so the POST is retried on transient
// failures.
func registerClient(ctx context.Context, endpoint string, meta registrationMetadata, hc *http.Client) (registrationResponse, error) {
	const op = "webidoidc.registerClient"
	if endpoint == "" {
		return registrationResponse{}, fmt.Errorf("%s: %w", op, ErrNoRegistration)
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return registrationResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	if hc != nil {
		rc.HTTPClient = hc
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return registrationResponse{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.Do(req)
	if err != nil {
		return registrationResponse{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return registrationResponse{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return registrationResponse{}, fmt.Errorf("%s: %s from %s: %w", op, resp.Status, endpoint, ErrRegistrationFailed)
	}
	var reg registrationResponse
	if err := json.Unmarshal(raw, &reg); err != nil {
		return registrationResponse{}, fmt.Errorf("%s: unparseable registration response: %w", op, err)
	}
	if reg.ClientID == "" {
		return registrationResponse{}, fmt.Errorf("%s: registration response has no client_id: %w", op, ErrRegistrationFailed)
	}
	return reg, nil
}
