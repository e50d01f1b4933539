package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestValidateStruct(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		input     interface{}
		wantError bool
	}{
		{
			name:  "valid token exchange",
			input: &TokenExchangeRequest{ServiceID: "billing-api", Audience: "https://billing.internal"},
		},
		{
			name:      "token exchange missing service id",
			input:     &TokenExchangeRequest{Audience: "https://billing.internal"},
			wantError: true,
		},
		{
			name:      "token exchange uppercase service id",
			input:     &TokenExchangeRequest{ServiceID: "Billing"},
			wantError: true,
		},
		{
			name:      "token exchange malformed operation",
			input:     &TokenExchangeRequest{ServiceID: "billing-api", Operation: "not a permission"},
			wantError: true,
		},
		{
			name: "valid api key request",
			input: &CreateAPIKeyRequest{
				Name:        "ci deploy key",
				Permissions: []string{"config:read", "config:update"},
				TTLSeconds:  3600,
			},
		},
		{
			name:      "api key request without permissions",
			input:     &CreateAPIKeyRequest{Name: "ci"},
			wantError: true,
		},
		{
			name: "api key ttl below minimum",
			input: &CreateAPIKeyRequest{
				Name:        "ci",
				Permissions: []string{"config:read"},
				TTLSeconds:  5,
			},
			wantError: true,
		},
		{
			name: "valid role request",
			input: &CreateRoleRequest{
				ID:          "developers",
				Description: "Read access for engineers",
				Permissions: []string{"config:read"},
			},
		},
		{
			name: "role request with invalid permission entry",
			input: &CreateRoleRequest{
				ID:          "developers",
				Permissions: []string{"config:read", "DROP TABLE"},
			},
			wantError: true,
		},
		{
			name: "group accepts directory-style id",
			input: &CreateGroupRequest{
				ID:          "c54f9f1a-9a31-4d60-b1fd-0e2a25f0f53c",
				DisplayName: "Platform Engineering",
				Permissions: []string{"config:read"},
			},
		},
		{
			name: "group rejects markup in display name",
			input: &CreateGroupRequest{
				ID:          "grp-1",
				DisplayName: "<script>",
				Permissions: []string{"config:read"},
			},
			wantError: true,
		},
		{
			name:  "valid token revocation",
			input: &RevokeTokenRequest{JTI: "9a8b7c6d"},
		},
		{
			name:      "token revocation missing jti",
			input:     &RevokeTokenRequest{},
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateStruct(tt.input)
			if (len(errs) > 0) != tt.wantError {
				t.Errorf("ValidateStruct() errors = %v, wantError %v", errs, tt.wantError)
			}
		})
	}
}

func TestValidationErrorsReportFields(t *testing.T) {
	v := NewValidator()

	errs := v.ValidateStruct(&CreateRoleRequest{Permissions: []string{"bad permission"}})
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.Contains(errs.Error(), "ID") {
		t.Errorf("Error() = %q, want mention of ID", errs.Error())
	}
	if details := errs.Details(); details["fields"] == nil {
		t.Error("Details() missing fields entry")
	}
}

func TestIsPermission(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"*", true},
		{"config:read", true},
		{"aussie:admin", true},
		{"config:*", true},
		{"keys:rotate-now", true},
		{"config", false},
		{"config:", false},
		{":read", false},
		{"Config:Read", false},
		{"config:read;drop", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPermission(tt.value); got != tt.want {
			t.Errorf("IsPermission(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIsSlug(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"billing-api", true},
		{"a", true},
		{"svc01", true},
		{"-leading", false},
		{"trailing-", false},
		{"UPPER", false},
		{"", false},
		{strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		if got := IsSlug(tt.value); got != tt.want {
			t.Errorf("IsSlug(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIsKeyID(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"k-2026-q3-1a2b3c4d", true},
		{"k-2026-q5-1a2b3c4d", false},
		{"k-26-q1-1a2b3c4d", false},
		{"k-2026-q1-1a2b3c", false},
		{"key-2026-q1-1a2b3c4d", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsKeyID(tt.value); got != tt.want {
			t.Errorf("IsKeyID(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIsLockoutKey(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"ip:203.0.113.7", true},
		{"user:alice@example.com", true},
		{"apikey:Zm9vYmFy", true},
		{"ip:", false},
		{"session:abc", false},
		{"203.0.113.7", false},
	}
	for _, tt := range tests {
		if got := IsLockoutKey(tt.value); got != tt.want {
			t.Errorf("IsLockoutKey(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIsSafeString(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"plain", "ci deploy key", true},
		{"unicode", "claves de producción", true},
		{"angle bracket", "a<b", false},
		{"quote", `say "hi"`, false},
		{"control character", "line1\x00line2", false},
	}
	for _, tt := range tests {
		if got := IsSafeString(tt.value); got != tt.want {
			t.Errorf("IsSafeString(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestBindAndValidate(t *testing.T) {
	v := NewValidator()
	gin.SetMode(gin.TestMode)

	newContext := func(body string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		return c
	}

	t.Run("valid body", func(t *testing.T) {
		var req TokenExchangeRequest
		err := BindAndValidate(v, newContext(`{"service_id":"billing-api"}`), &req)
		if err != nil {
			t.Fatalf("BindAndValidate() error = %v", err)
		}
		if req.ServiceID != "billing-api" {
			t.Errorf("ServiceID = %q, want %q", req.ServiceID, "billing-api")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		var req TokenExchangeRequest
		err := BindAndValidate(v, newContext(`{not json`), &req)
		if err == nil {
			t.Fatal("BindAndValidate() expected error")
		}
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			t.Error("malformed JSON should not report field errors")
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		var req TokenExchangeRequest
		err := BindAndValidate(v, newContext(`{"service_id":"Not Valid"}`), &req)
		var verrs ValidationErrors
		if !errors.As(err, &verrs) {
			t.Fatalf("BindAndValidate() error = %v, want ValidationErrors", err)
		}
		if len(verrs) != 1 || verrs[0].Field != "ServiceID" {
			t.Errorf("errors = %v, want single ServiceID failure", verrs)
		}
	})
}

func TestValidatePathParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "keyId", Value: "k-2026-q3-1a2b3c4d"}}

	got, err := ValidatePathParam(c, "keyId", IsKeyID, "invalid key id")
	if err != nil {
		t.Fatalf("ValidatePathParam() error = %v", err)
	}
	if got != "k-2026-q3-1a2b3c4d" {
		t.Errorf("value = %q", got)
	}

	c.Params = gin.Params{{Key: "keyId", Value: "nope"}}
	if _, err := ValidatePathParam(c, "keyId", IsKeyID, "invalid key id"); err == nil {
		t.Error("ValidatePathParam() expected error for invalid value")
	}
}
