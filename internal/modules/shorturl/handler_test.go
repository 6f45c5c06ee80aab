package shorturl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/shortener/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newTestService(t, newFakeStore())
	r := gin.New()
	api := r.Group("/api")
	NewHandler(svc).RegisterRoutes(api, middleware.APIKey("X-API-Key", "admin-key"))
	r.GET("/:code/preview", NewHandler(svc).Preview)
	return r, svc
}

func doJSON(r *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCreateEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/page"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var created CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.IsNew)
	assert.NotEmpty(t, created.Code)
	assert.Equal(t, "http://sho.rt/"+created.Code, created.ShortURL)

	// Same destination dedups.
	w = doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/page?utm_source=x"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var again CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.False(t, again.IsNew)
	assert.Equal(t, created.Code, again.Code)
}

func TestCreateEndpointValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		body string
		code string
	}{
		{`{}`, "VALIDATION"},
		{`{"url":"ftp://example.com"}`, "INVALID_URL"},
		{`{"url":"https://example.com","expiresAt":"not-a-date"}`, "VALIDATION"},
		{`{"url":"https://example.com","expiresAt":"2020-01-01T00:00:00Z"}`, "EXPIRY_IN_PAST"},
		{`{"url":"https://example.com","customAlias":"!!"}`, "ALIAS_INVALID"},
	}
	for _, tc := range cases {
		w := doJSON(r, http.MethodPost, "/api/urls", tc.body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.body)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), tc.body)
		assert.Equal(t, tc.code, body["error"], tc.body)
	}
}

func TestAliasConflictEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://a.example.com","customAlias":"my-link"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://b.example.com","customAlias":"my-link"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ALIAS_TAKEN", body["error"])
}

func TestListEndpointShape(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/1"}`, nil)
	doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/2"}`, nil)

	w := doJSON(r, http.MethodGet, "/api/urls?page=1&limit=20", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, field := range []string{"urls", "total", "page", "limit", "totalPages", "hasNext", "hasPrev"} {
		assert.Contains(t, body, field)
	}

	w = doJSON(r, http.MethodGet, "/api/urls?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/s"}`, nil)

	w := doJSON(r, http.MethodGet, "/api/urls/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats["total"])
	assert.Equal(t, int64(1), stats["active"])
	assert.Equal(t, int64(0), stats["expired"])
}

func TestDeleteEndpointRequiresAdminKey(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/del","customAlias":"del-me"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/urls/del-me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := map[string]string{"X-API-Key": "admin-key"}
	w = doJSON(r, http.MethodDelete, "/api/urls/del-me", "", admin)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/urls/del-me", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	admin := map[string]string{"X-API-Key": "admin-key"}

	w := doJSON(r, http.MethodPost, "/api/urls/batch",
		`{"urls":[{"url":"https://example.com/b1"},{"url":"ftp://bad"}]}`, admin)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success []CreateResult   `json:"success"`
		Errors  []map[string]any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Success, 1)
	assert.Len(t, body.Errors, 1)
}

func TestPreviewEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/urls", `{"url":"https://example.com/p","customAlias":"prev-1"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/prev-1/preview", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "prev-1", body["code"])
	assert.Equal(t, "https://example.com/p", body["original"])
	assert.Equal(t, false, body["isExpired"])

	w = doJSON(r, http.MethodGet, "/nope123/preview", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
