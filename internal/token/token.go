// Package token implements the auth token issuance endpoint a host
// application's backend exposes, plus the client-side call the core
// makes against it (or directly against an API key) before dialing the
// remote KV service.
package token

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/net/http2"

	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// Request is the body POSTed to the token-issuance endpoint.
type Request struct {
	Namespace                 string   `json:"namespace"`
	SubscribedKeysAndPatterns []string `json:"subscribedKeysAndPatterns"`
}

// Response is the 200 body returned by the token-issuance endpoint.
type Response struct {
	Namespace string `json:"namespace"`
	Token     string `json:"token"`
}

// errorResponse is the 400 body returned on a malformed request or a
// policy rejection.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns a plain net/http.Handler a host backend mounts at its
// token-generation URL. It derives a scoped bearer token deterministically
// from apiKey, the requested namespace, and the sorted field allow-list,
// so the remote KV service can verify it without a round trip back to
// this handler (§6). Non-POST requests get 405; a malformed body or an
// empty namespace get 400.
func Handler(apiKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req Request
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, "malformed request body")
			return
		}
		if req.Namespace == "" {
			writeError(w, "namespace is required")
			return
		}

		tok := deriveToken(apiKey, req.Namespace, req.SubscribedKeysAndPatterns)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Namespace: req.Namespace, Token: tok})
	})
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// deriveToken derives a scoped, verifiable bearer token from apiKey: an
// HKDF-SHA(blake2b) expansion keyed on the namespace and sorted field
// scope, so two requests for the same namespace/scope always yield the
// same token and distinct scopes never collide.
func deriveToken(apiKey, namespace string, fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	info := []byte(namespace + "\x00")
	for _, f := range sorted {
		info = append(info, []byte(f+"\x00")...)
	}

	h := hkdf.New(newBlake2bHash, []byte(apiKey), nil, info)
	out := make([]byte, 24)
	if _, err := io.ReadFull(h, out); err != nil {
		// hkdf only fails to read when the requested length exceeds
		// 255*hash-size; 24 bytes never does, so this is unreachable.
		panic("token: " + err.Error())
	}
	return hex.EncodeToString(out)
}

func newBlake2bHash() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("token: " + err.Error())
	}
	return h
}

// Client fetches a scoped token before the core dials the remote KV
// service, either by deriving it directly from a local API key or by
// calling a host-provided token-generation URL over HTTP/2 cleartext.
type Client struct {
	apiKey             string
	tokenGenerationURL string
	httpClient         *http.Client
}

// New returns a Client. Exactly one of apiKey or tokenGenerationURL
// should be non-empty, enforced by multiplayer.Options.Validate before this
// is constructed.
func New(apiKey, tokenGenerationURL string) *Client {
	return &Client{
		apiKey:             apiKey,
		tokenGenerationURL: tokenGenerationURL,
		httpClient:         newH2CClient(),
	}
}

// Fetch returns a bearer token scoped to namespace and fields. When the
// client holds a direct API key, the token is derived locally with no
// network call; otherwise it POSTs to tokenGenerationURL.
func (c *Client) Fetch(ctx context.Context, namespace string, fields []string) (string, error) {
	if c.apiKey != "" {
		return deriveToken(c.apiKey, namespace, fields), nil
	}

	body, err := json.Marshal(Request{Namespace: namespace, SubscribedKeysAndPatterns: fields})
	if err != nil {
		return "", &coretypes.AuthenticationError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenGenerationURL, bytes.NewReader(body))
	if err != nil {
		return "", &coretypes.AuthenticationError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &coretypes.AuthenticationError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", &coretypes.AuthenticationError{Cause: fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, errBody.Error)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &coretypes.AuthenticationError{Cause: err}
	}
	return out.Token, nil
}

// newH2CClient builds an HTTP client that speaks HTTP/2 cleartext.
func newH2CClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
