package token_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
	"github.com/hpkv-io/multiplayer-go/internal/token"
)

// h2cServer wraps h in an h2c.NewHandler so the client's cleartext
// HTTP/2 transport (newH2CClient) can exchange prior-knowledge frames
// with it.
func h2cServer(h http.Handler) *httptest.Server {
	return httptest.NewServer(h2c.NewHandler(h, &http2.Server{}))
}

func TestHandler_RejectsNonPost(t *testing.T) {
	h := token.Handler("secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_RejectsMalformedBody(t *testing.T) {
	h := token.Handler("secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("{not json"))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RejectsEmptyNamespace(t *testing.T) {
	h := token.Handler("secret")
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(token.Request{Namespace: ""})
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(body))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_IssuesDeterministicToken(t *testing.T) {
	h := token.Handler("secret")

	body, _ := json.Marshal(token.Request{Namespace: "room-1", SubscribedKeysAndPatterns: []string{"todos", "cursor"}})

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp1, resp2 token.Response
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &resp1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))

	assert.Equal(t, "room-1", resp1.Namespace)
	assert.NotEmpty(t, resp1.Token)
	assert.Equal(t, resp1.Token, resp2.Token, "same namespace+scope must derive the same token")
}

func TestHandler_DifferentScopesYieldDifferentTokens(t *testing.T) {
	h := token.Handler("secret")

	bodyA, _ := json.Marshal(token.Request{Namespace: "room-1", SubscribedKeysAndPatterns: []string{"todos"}})
	bodyB, _ := json.Marshal(token.Request{Namespace: "room-1", SubscribedKeysAndPatterns: []string{"cursor"}})

	recA := httptest.NewRecorder()
	h.ServeHTTP(recA, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(bodyA)))
	recB := httptest.NewRecorder()
	h.ServeHTTP(recB, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(bodyB)))

	var respA, respB token.Response
	require.NoError(t, json.Unmarshal(recA.Body.Bytes(), &respA))
	require.NoError(t, json.Unmarshal(recB.Body.Bytes(), &respB))

	assert.NotEqual(t, respA.Token, respB.Token)
}

func TestHandler_ScopeOrderDoesNotAffectToken(t *testing.T) {
	h := token.Handler("secret")

	bodyA, _ := json.Marshal(token.Request{Namespace: "room-1", SubscribedKeysAndPatterns: []string{"todos", "cursor"}})
	bodyB, _ := json.Marshal(token.Request{Namespace: "room-1", SubscribedKeysAndPatterns: []string{"cursor", "todos"}})

	recA := httptest.NewRecorder()
	h.ServeHTTP(recA, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(bodyA)))
	recB := httptest.NewRecorder()
	h.ServeHTTP(recB, httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(bodyB)))

	var respA, respB token.Response
	require.NoError(t, json.Unmarshal(recA.Body.Bytes(), &respA))
	require.NoError(t, json.Unmarshal(recB.Body.Bytes(), &respB))

	assert.Equal(t, respA.Token, respB.Token)
}

func TestClient_FetchWithDirectAPIKeyNeedsNoNetwork(t *testing.T) {
	c := token.New("secret", "")
	tok, err := c.Fetch(context.Background(), "room-1", []string{"todos"})
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestClient_FetchAgainstTokenGenerationURL(t *testing.T) {
	server := h2cServer(token.Handler("secret"))
	defer server.Close()

	c := token.New("", server.URL)
	tok, err := c.Fetch(context.Background(), "room-1", []string{"todos"})
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestClient_FetchSurfacesAuthenticationErrorOnRejection(t *testing.T) {
	server := h2cServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rejected"})
	}))
	defer server.Close()

	c := token.New("", server.URL)
	_, err := c.Fetch(context.Background(), "room-1", nil)
	require.Error(t, err)
	var authErr *coretypes.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}
