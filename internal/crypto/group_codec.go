package crypto

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Group rows are persisted as one encrypted blob. The serialized form is
// six NUL-separated fields: id, display name, description, comma-joined
// permissions, created at, updated at. Timestamps are RFC 3339 with
// nanoseconds.
const (
	groupFieldSep  = "\x00"
	groupFieldsLen = 6
)

// SerializeGroup flattens a group into its storage form. Any field
// containing the separator is rejected.
func SerializeGroup(g *types.Group) (string, error) {
	fields := []string{
		g.ID,
		g.DisplayName,
		g.Description,
		strings.Join(g.Permissions, ","),
		g.CreatedAt.UTC().Format(time.RFC3339Nano),
		g.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for i, f := range fields {
		if strings.Contains(f, groupFieldSep) {
			return "", apperrors.ErrValidation.WithMessage(
				fmt.Sprintf("group field %d contains a NUL byte", i))
		}
	}
	return strings.Join(fields, groupFieldSep), nil
}

// DeserializeGroup parses the storage form produced by SerializeGroup.
func DeserializeGroup(s string) (*types.Group, error) {
	fields := strings.Split(s, groupFieldSep)
	if len(fields) != groupFieldsLen {
		return nil, apperrors.ErrValidation.WithMessage(
			fmt.Sprintf("malformed group record: %d fields, want %d", len(fields), groupFieldsLen))
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields[4])
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("malformed group created_at").WithError(err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields[5])
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("malformed group updated_at").WithError(err)
	}

	var permissions []string
	if fields[3] != "" {
		permissions = strings.Split(fields[3], ",")
	}

	return &types.Group{
		ID:          fields[0],
		DisplayName: fields[1],
		Description: fields[2],
		Permissions: permissions,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// EncryptGroup serializes and seals a group for storage.
func (e *Encryptor) EncryptGroup(g *types.Group) (string, error) {
	serialized, err := SerializeGroup(g)
	if err != nil {
		return "", err
	}
	return e.Encrypt([]byte(serialized))
}

// DecryptGroup opens and parses a stored group blob.
func (e *Encryptor) DecryptGroup(stored string) (*types.Group, error) {
	plaintext, err := e.Decrypt(stored)
	if err != nil {
		return nil, err
	}
	return DeserializeGroup(string(plaintext))
}
