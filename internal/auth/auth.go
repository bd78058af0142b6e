// Package auth authenticates API callers with static API keys and scopes
// sessions to the caller that opened them.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleQueryRunner may open sessions and resolve queries in them.
	RoleQueryRunner = "query_runner"
	// RoleOpsAdmin may list and close every session.
	RoleOpsAdmin = "ops_admin"
)

var knownRoles = []string{RoleOpsAdmin, RoleQueryRunner}

// Identity is the caller behind an API key. Subject owns the sessions the
// caller opens.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds only digests of the configured keys, so a
// dumped validator does not leak them.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:subject:role|role
// entries, the format of ASKDB_AUTH_STATIC_KEYS.
func NewStaticAPIKeyValidator(raw string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	if strings.TrimSpace(raw) == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid static key entry %q: %w", strings.TrimSpace(entry), err)
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := validator.keys[digest]; dup {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", strings.TrimSpace(entry))
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("expected key:subject:role|role")
	}
	key, subject := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return "", Identity{}, fmt.Errorf("empty key or subject")
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.TrimSpace(role)
		switch {
		case role == "":
			continue
		case !slices.Contains(knownRoles, role):
			return "", Identity{}, fmt.Errorf("unknown role %q", role)
		case !slices.Contains(roles, role):
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("at least one role is required")
	}
	slices.Sort(roles)
	return key, Identity{Subject: subject, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	if apiKey == "" {
		return Identity{}, false
	}
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
