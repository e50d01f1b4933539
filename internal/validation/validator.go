// Package validation holds the request DTOs for the admin and token
// surfaces plus the custom validator tags they use. Handlers bind
// bodies through BindAndValidate and report field-level failures in
// the standard error envelope.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var (
	// Slug ids: role ids, service ids. DNS-label shaped.
	slugRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

	// Permissions are resource:action pairs, or the bare wildcard.
	permissionRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[a-z0-9*][a-z0-9_-]*$`)

	// Signing key ids as minted by the registry: k-<year>-q<quarter>-<8 hex>.
	keyIDRegex = regexp.MustCompile(`^k-\d{4}-q[1-4]-[0-9a-f]{8}$`)

	// Lockout tracking keys carry their axis as a prefix.
	lockoutKeyRegex = regexp.MustCompile(`^(ip|user|apikey):.+$`)
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New()

	validate.RegisterValidation("slug", validateSlug)
	validate.RegisterValidation("permission", validatePermission)
	validate.RegisterValidation("key_id", validateKeyID)
	validate.RegisterValidation("lockout_key", validateLockoutKey)
	validate.RegisterValidation("safe_string", validateSafeString)

	return &Validator{validate: validate}
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// Details shapes the failures for the error envelope's details field.
func (v ValidationErrors) Details() map[string]interface{} {
	return map[string]interface{}{"fields": v}
}

// Request DTOs for the token surface.

type TokenExchangeRequest struct {
	ServiceID string `json:"service_id" validate:"required,slug"`
	Audience  string `json:"audience,omitempty" validate:"omitempty,max=255,safe_string"`
	// Operation, when set, is checked against the service's policy
	// before a token is issued.
	Operation string `json:"operation,omitempty" validate:"omitempty,max=128,permission"`
}

// Request DTOs for the admin surface.

type CreateAPIKeyRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=128,safe_string"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,permission"`
	// TTLSeconds of zero means the key never expires.
	TTLSeconds int64 `json:"ttl_seconds,omitempty" validate:"omitempty,min=60,max=31536000"`
}

func (r *CreateAPIKeyRequest) TTL() *time.Duration {
	if r.TTLSeconds <= 0 {
		return nil
	}
	d := time.Duration(r.TTLSeconds) * time.Second
	return &d
}

type CreateRoleRequest struct {
	ID          string   `json:"id" validate:"required,slug"`
	Description string   `json:"description,omitempty" validate:"omitempty,max=512,safe_string"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,permission"`
}

type UpdateRoleRequest struct {
	Description *string  `json:"description,omitempty" validate:"omitempty,max=512,safe_string"`
	Permissions []string `json:"permissions,omitempty" validate:"omitempty,min=1,dive,permission"`
}

// Group ids come from external directories (OIDC group claims, AD
// object ids), so they are free-form where role ids are slugs.
type CreateGroupRequest struct {
	ID          string   `json:"id" validate:"required,min=1,max=255,safe_string"`
	DisplayName string   `json:"display_name" validate:"required,min=1,max=128,safe_string"`
	Description string   `json:"description,omitempty" validate:"omitempty,max=512,safe_string"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,permission"`
}

type UpdateGroupRequest struct {
	DisplayName *string  `json:"display_name,omitempty" validate:"omitempty,min=1,max=128,safe_string"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=512,safe_string"`
	Permissions []string `json:"permissions,omitempty" validate:"omitempty,min=1,dive,permission"`
}

type RevokeTokenRequest struct {
	JTI string `json:"jti" validate:"required,min=1,max=255,safe_string"`
	// ExpiresAt bounds how long the revocation is retained; zero means
	// the service's default window.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type RevokeUserRequest struct {
	UserID string `json:"user_id" validate:"required,min=1,max=255,safe_string"`
	// Tokens issued before this instant are revoked; zero means now.
	IssuedBefore time.Time `json:"issued_before,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (v *Validator) ValidateStruct(s interface{}) ValidationErrors {
	var errs ValidationErrors

	err := v.validate.Struct(s)
	if err != nil {
		for _, fieldError := range err.(validator.ValidationErrors) {
			errs = append(errs, ValidationError{
				Field:   fieldError.Field(),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: errorMessage(fieldError),
			})
		}
	}
	return errs
}

func errorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s", err.Param())
	case "len":
		return fmt.Sprintf("Must be exactly %s characters long", err.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", err.Param())
	case "slug":
		return "Must be 1-63 lowercase letters, numbers and hyphens"
	case "permission":
		return "Must be a resource:action permission"
	case "key_id":
		return "Must be a signing key id (k-<year>-q<quarter>-<hex>)"
	case "lockout_key":
		return "Must be an ip:, user: or apikey: tracking key"
	case "safe_string":
		return "Contains invalid characters"
	default:
		return "Invalid value"
	}
}

func validateSlug(fl validator.FieldLevel) bool {
	return IsSlug(fl.Field().String())
}

func validatePermission(fl validator.FieldLevel) bool {
	return IsPermission(fl.Field().String())
}

func validateKeyID(fl validator.FieldLevel) bool {
	return IsKeyID(fl.Field().String())
}

func validateLockoutKey(fl validator.FieldLevel) bool {
	return IsLockoutKey(fl.Field().String())
}

func validateSafeString(fl validator.FieldLevel) bool {
	return IsSafeString(fl.Field().String())
}

// IsSlug reports whether value is a valid slug id (role ids, service
// ids).
func IsSlug(value string) bool {
	if len(value) == 0 || len(value) > 63 {
		return false
	}
	return slugRegex.MatchString(value)
}

// IsPermission reports whether value is a well-formed permission
// string. The bare wildcard is accepted.
func IsPermission(value string) bool {
	if value == "*" {
		return true
	}
	if len(value) == 0 || len(value) > 128 {
		return false
	}
	return permissionRegex.MatchString(value)
}

// IsKeyID reports whether value matches the registry's kid format.
func IsKeyID(value string) bool {
	return keyIDRegex.MatchString(value)
}

// IsLockoutKey reports whether value is an axis-prefixed tracking key.
func IsLockoutKey(value string) bool {
	if len(value) > 255 {
		return false
	}
	return lockoutKeyRegex.MatchString(value)
}

// IsSafeString rejects control characters and the characters most
// likely to end up reflected into logs or UIs unescaped.
func IsSafeString(value string) bool {
	for _, r := range value {
		if r < 32 || r == 127 {
			return false
		}
		if r == '<' || r == '>' || r == '"' || r == '\'' || r == '&' {
			return false
		}
	}
	return true
}

// BindAndValidate binds the JSON body into obj and runs struct
// validation. The returned error is a ValidationErrors when the body
// parsed but failed validation.
func BindAndValidate[T any](v *Validator, c *gin.Context, obj *T) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if errs := v.ValidateStruct(obj); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidatePathParam fetches a path parameter and checks it against
// the given predicate.
func ValidatePathParam(c *gin.Context, param string, valid func(string) bool, errorMsg string) (string, error) {
	value := c.Param(param)
	if value == "" {
		return "", fmt.Errorf("%s parameter is required", param)
	}
	if !valid(value) {
		return "", fmt.Errorf("%s", errorMsg)
	}
	return value, nil
}

// ValidateQueryParam fetches a query parameter, applying a default
// when absent, and checks it against the given predicate.
func ValidateQueryParam(c *gin.Context, param, defaultValue string, valid func(string) bool, errorMsg string) (string, error) {
	value := c.DefaultQuery(param, defaultValue)
	if !valid(value) {
		return "", fmt.Errorf("%s", errorMsg)
	}
	return value, nil
}
