package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwistrand/aussie-sub004/internal/apikeys"
	"github.com/mwistrand/aussie-sub004/internal/authlimit"
	"github.com/mwistrand/aussie-sub004/internal/authz"
	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/rbac"
	"github.com/mwistrand/aussie-sub004/internal/testutil"
	"github.com/mwistrand/aussie-sub004/internal/token"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

const (
	goodBearer  = "accepted-bearer-token"
	adminAPIKey = "integration-test-admin-key-0123456789abcdef"
)

// stubValidator accepts exactly one bearer string and stamps the
// provider id on the returned identity.
type stubValidator struct {
	accept   string
	identity *token.Identity
}

func (s *stubValidator) Name() string                     { return "stub" }
func (s *stubValidator) Priority() int                    { return 100 }
func (s *stubValidator) Available(_ config.Provider) bool { return true }

func (s *stubValidator) Validate(_ context.Context, bearer string, provider config.Provider) token.Validation {
	if bearer != s.accept {
		return token.Invalid("signature or claims check failed")
	}
	identity := *s.identity
	identity.Provider = provider.ID
	return token.Valid(&identity)
}

type authFixture struct {
	auth     *Authenticator
	attempts *testutil.MockFailedAttemptRepository
}

// newAuthFixture wires an Authenticator over in-memory repositories.
// The bearer goodBearer authenticates as user-1 with the developers
// role (expanding to config:read); adminAPIKey holds the admin
// permission. Two failed attempts lock an axis for a minute.
func newAuthFixture(t *testing.T, policies map[string]authz.Policy) *authFixture {
	t.Helper()
	logger := logging.NewTestLogger()

	identity := &token.Identity{
		Subject: "user-1",
		Issuer:  "https://idp.test",
		Claims: map[string]interface{}{
			"sub":   "user-1",
			"jti":   "tok-1",
			"roles": []interface{}{"developers"},
		},
		IssuedAt:  time.Now().Add(-time.Minute),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	pipeline := token.NewPipeline(config.AuthConfig{Enabled: true},
		[]config.Provider{{ID: "idp", Issuer: "https://idp.test", JWKSURI: "https://idp.test/jwks"}},
		nil, logger, &stubValidator{accept: goodBearer, identity: identity})

	keys := apikeys.NewService(config.APIKeyConfig{}, testutil.NewMockAPIKeyRepository(), logger)
	if _, err := keys.CreateWithKey(context.Background(), adminAPIKey, apikeys.CreateRequest{
		Name:        "ops",
		Permissions: []string{types.PermissionAdmin},
	}); err != nil {
		t.Fatalf("CreateWithKey() error = %v", err)
	}

	attempts := testutil.NewMockFailedAttemptRepository()
	limits := authlimit.NewService(config.RateLimitConfig{
		Enabled:             true,
		MaxFailedAttempts:   2,
		FailedAttemptWindow: time.Minute,
		LockoutDuration:     time.Minute,
		TrackByIP:           true,
		TrackByIdentifier:   true,
	}, attempts, logger)

	roles := rbac.NewRoleService(testutil.NewMockRoleRepository(), logger, time.Minute)
	if err := roles.Create(context.Background(), &types.Role{
		ID:          "developers",
		Permissions: []string{"config:read"},
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	groups := rbac.NewGroupService(testutil.NewMockGroupRepository(), logger, time.Minute)
	translator := rbac.NewTranslator(config.TranslationConfig{
		Enabled:      true,
		CacheTTL:     time.Minute,
		CacheMaxSize: 100,
	}, logger, rbac.NewStandardProvider())

	auth := NewAuthenticator(pipeline, keys, limits, translator,
		rbac.NewResolver(roles, groups), authz.NewEvaluator(policies, logger), logger)
	return &authFixture{auth: auth, attempts: attempts}
}

// router mounts Authenticate plus any extra gates in front of a probe
// handler echoing the resolved principal.
func (f *authFixture) router(gates ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logging.NewTestLogger()), f.auth.Authenticate())
	handlers := append(gates, func(c *gin.Context) {
		subject := ""
		if identity, ok := IdentityFrom(c); ok {
			subject = identity.Subject
		}
		c.JSON(http.StatusOK, gin.H{
			"subject":     subject,
			"auth_type":   AuthTypeFrom(c),
			"permissions": PermissionsFrom(c),
		})
	})
	r.GET("/resource", handlers...)
	return r
}

type principalResponse struct {
	Subject     string   `json:"subject"`
	AuthType    string   `json:"auth_type"`
	Permissions []string `json:"permissions"`
}

type errorEnvelope struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func doRequest(t *testing.T, r *gin.Engine, modify func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	if modify != nil {
		modify(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodePrincipal(t *testing.T, w *httptest.ResponseRecorder) principalResponse {
	t.Helper()
	var got principalResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return got
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return envelope.Error.Code
}

func TestAuthenticateBearer(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+goodBearer)
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := decodePrincipal(t, w)
	if got.Subject != "user-1" {
		t.Errorf("subject = %q, want %q", got.Subject, "user-1")
	}
	if got.AuthType != AuthTypeBearer {
		t.Errorf("auth_type = %q, want %q", got.AuthType, AuthTypeBearer)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != "config:read" {
		t.Errorf("permissions = %v, want [config:read]", got.Permissions)
	}
}

func TestAuthenticateRejectsInvalidBearer(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer forged")
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, w); code != "AUTH_INVALID" {
		t.Errorf("error code = %q, want AUTH_INVALID", code)
	}
}

func TestAuthenticateAnonymousPassesThrough(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	w := doRequest(t, r, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decodePrincipal(t, w)
	if got.Subject != "" || got.AuthType != "" {
		t.Errorf("anonymous request resolved principal %+v", got)
	}
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router(RequireAuth())

	w := doRequest(t, r, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set(APIKeyHeader, adminAPIKey)
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := decodePrincipal(t, w)
	if got.AuthType != AuthTypeAPIKey {
		t.Errorf("auth_type = %q, want %q", got.AuthType, AuthTypeAPIKey)
	}
	if len(got.Subject) == 0 {
		t.Error("subject is empty for API key principal")
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != types.PermissionAdmin {
		t.Errorf("permissions = %v, want [%s]", got.Permissions, types.PermissionAdmin)
	}
}

func TestAuthenticateRejectsUnknownAPIKey(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set(APIKeyHeader, "not-a-real-key-aaaaaaaaaaaaaaaaaaaaaaaa")
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLockoutAfterRepeatedBearerFailures(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	bad := func(req *http.Request) { req.Header.Set("Authorization", "Bearer forged") }

	// Two failures hit the configured maximum and lock the IP axis.
	for i := 0; i < 2; i++ {
		if w := doRequest(t, r, bad); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusUnauthorized)
		}
	}

	w := doRequest(t, r, bad)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("locked status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if code := errorCode(t, w); code != "AUTH_LOCKED" {
		t.Errorf("error code = %q, want AUTH_LOCKED", code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("locked response missing Retry-After header")
	}

	// The lockout also blocks subsequent valid credentials.
	good := func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+goodBearer) }
	if w := doRequest(t, r, good); w.Code != http.StatusTooManyRequests {
		t.Errorf("valid credential during lockout: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestSuccessClearsFailureCounter(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	bad := func(req *http.Request) { req.Header.Set("Authorization", "Bearer forged") }
	good := func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+goodBearer) }

	doRequest(t, r, bad)
	if w := doRequest(t, r, good); w.Code != http.StatusOK {
		t.Fatalf("valid credential: status = %d, want %d", w.Code, http.StatusOK)
	}

	// The counter restarted; one more failure must not lock.
	doRequest(t, r, bad)
	if w := doRequest(t, r, good); w.Code != http.StatusOK {
		t.Errorf("status after single failure = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyLockoutTracksKeyPrefix(t *testing.T) {
	f := newAuthFixture(t, nil)
	r := f.router()

	// Failures from distinct addresses share the API key axis.
	badKey := func(addr string) func(*http.Request) {
		return func(req *http.Request) {
			req.RemoteAddr = addr
			req.Header.Set(APIKeyHeader, "guessed-key-000000000000000000000000000000")
		}
	}

	doRequest(t, r, badKey("10.1.0.1:1000"))
	doRequest(t, r, badKey("10.1.0.2:1000"))

	w := doRequest(t, r, badKey("10.1.0.3:1000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestRequirePermissionDefaultPolicy(t *testing.T) {
	f := newAuthFixture(t, nil)

	tests := []struct {
		name      string
		modify    func(*http.Request)
		operation string
		want      int
	}{
		{
			name:      "admin key allowed",
			modify:    func(req *http.Request) { req.Header.Set(APIKeyHeader, adminAPIKey) },
			operation: "config:update",
			want:      http.StatusOK,
		},
		{
			name:      "non-admin bearer denied",
			modify:    func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+goodBearer) },
			operation: "config:read",
			want:      http.StatusForbidden,
		},
		{
			name:      "anonymous unauthorized",
			modify:    nil,
			operation: "config:read",
			want:      http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.router(f.auth.RequirePermission(tt.operation))
			w := doRequest(t, r, tt.modify)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRequirePermissionExplicitGatewayPolicy(t *testing.T) {
	f := newAuthFixture(t, map[string]authz.Policy{
		GatewayServiceID: {
			"config:read": authz.OperationPermission{AnyOf: []string{"config:read", types.PermissionAdmin}},
		},
	})
	r := f.router(f.auth.RequirePermission("config:read"))

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+goodBearer)
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestNoopPipelineGrantsWildcard(t *testing.T) {
	logger := logging.NewTestLogger()
	pipeline := token.NewPipeline(config.AuthConfig{Enabled: true, DangerousNoop: true}, nil, nil, logger)
	auth := NewAuthenticator(pipeline, nil, nil, nil, nil, authz.NewEvaluator(nil, logger), logger)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger), auth.Authenticate())
	r.GET("/resource", auth.RequirePermission("config:delete"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"permissions": PermissionsFrom(c)})
	})

	w := doRequest(t, r, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestAuthDisabledTreatsBearerAsAnonymous(t *testing.T) {
	logger := logging.NewTestLogger()
	pipeline := token.NewPipeline(config.AuthConfig{Enabled: false}, nil, nil, logger)
	auth := NewAuthenticator(pipeline, nil, nil, nil, nil, nil, logger)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger), auth.Authenticate())
	r.GET("/resource", RequireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := doRequest(t, r, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer anything")
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"absent", "", ""},
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"other scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
		{"padded token", "Bearer  abc ", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(c); got != tt.want {
				t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
