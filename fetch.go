package solidauth

import (
	"fmt"
	"io"
	"net/http"

	"github.com/solid-go/solidauth/session"
	"github.com/solid-go/solidauth/webidoidc"
)

// Fetch performs req, negotiating credentials per host:
//
//  1. With no session, the request goes out unmodified.
//  2. A host already known to require credentials gets them on the first
//     attempt; no probe.
//  3. Any other host is probed without credentials first. Resource servers
//     do not advertise their auth requirement on success, so the only signal
//     is an explicit challenge.
//  4. If the probe comes back 401 with a Bearer challenge whose scope
//     includes "webid", the host is recorded as requiring auth and the
//     request is re-issued exactly once with credentials. Any other 401 is
//     returned to the caller unmodified.
//
// Attaching credentials means a proof-of-possession token minted for the
// target URL, set as a bearer Authorization header. Minting is relatively
// expensive, which is why known hosts are cached rather than re-probed.
//
// Retrying consumes the request body; requests with a body must carry
// GetBody (http.NewRequest sets it for common body types) or the retry is
// skipped and the 401 returned as-is.
func (c *Client) Fetch(req *http.Request) (*http.Response, error) {
	const op = "Client.Fetch"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	ctx := req.Context()

	sess, err := c.store.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		return c.http.Do(req)
	}

	host, err := c.store.Host(ctx, req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if host != nil && host.RequiresAuth {
		return c.fetchWithCredentials(sess, req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if err := c.store.UpdateHostFromResponse(ctx, resp); err != nil {
		c.logger.Warn("unable to record host auth requirement", "error", err)
		return resp, nil
	}
	host, err = c.store.Host(ctx, req.URL.String())
	if err != nil || host == nil || !host.RequiresAuth {
		// Not a WebID-OIDC challenge; the 401 belongs to the caller.
		return resp, nil
	}

	retry, retryErr := replayableRequest(req)
	if retryErr != nil {
		c.logger.Warn("cannot retry with credentials", "url", req.URL.String(), "error", retryErr)
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return c.fetchWithCredentials(sess, retry)
}

// fetchWithCredentials sends req with a freshly minted proof-of-possession
// token for its target.
func (c *Client) fetchWithCredentials(sess *session.Session, req *http.Request) (*http.Response, error) {
	const op = "Client.fetchWithCredentials"
	token, err := webidoidc.IssuePoPToken(sess, req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(authed)
}

// replayableRequest produces a fresh copy of req whose body can be sent
// again after the probe consumed the original.
func replayableRequest(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}
