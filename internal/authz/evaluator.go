package authz

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Evaluator answers authorization questions against per-service
// policies, falling back to the default policy.
type Evaluator struct {
	defaultPolicy   Policy
	servicePolicies map[string]Policy
	logger          logging.Logger
}

// NewEvaluator builds an evaluator over the given per-service policies.
// A nil map means every service uses the default policy.
func NewEvaluator(servicePolicies map[string]Policy, logger logging.Logger) *Evaluator {
	return &Evaluator{
		defaultPolicy:   DefaultPolicy(),
		servicePolicies: servicePolicies,
		logger:          logger.WithField("component", "authz"),
	}
}

// IsAuthorizedForService decides whether a caller holding the given
// permissions may perform the operation against the service. Wildcard
// holders are always allowed; callers with no permissions never are.
func (e *Evaluator) IsAuthorizedForService(serviceID, operation string, permissions []string) bool {
	if hasWildcard(permissions) {
		return true
	}
	if len(permissions) == 0 {
		return false
	}

	policy := e.defaultPolicy
	if explicit, ok := e.servicePolicies[serviceID]; ok && len(explicit) > 0 {
		policy = explicit
	}
	return policy.IsAllowed(operation, permissions)
}

// CanCreateService checks service creation against the default policy,
// since no per-service policy can exist before the service does.
func (e *Evaluator) CanCreateService(permissions []string) bool {
	if hasWildcard(permissions) {
		return true
	}
	if len(permissions) == 0 {
		return false
	}
	return e.defaultPolicy.IsAllowed(OpConfigCreate, permissions)
}

func hasWildcard(permissions []string) bool {
	for _, p := range permissions {
		if p == types.PermissionWildcard {
			return true
		}
	}
	return false
}

// policiesFile is the YAML shape of the optional policies file:
//
//	services:
//	  billing:
//	    "config:read":
//	      anyOf: [billing:admin, aussie:admin]
type policiesFile struct {
	Services map[string]map[string]OperationPermission `yaml:"services"`
}

// LoadPolicies reads per-service policies from a YAML file. An empty
// path yields no explicit policies.
func LoadPolicies(path string, logger logging.Logger) (map[string]Policy, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policies file: %w", err)
	}

	var file policiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing policies file: %w", err)
	}

	policies := make(map[string]Policy, len(file.Services))
	for serviceID, operations := range file.Services {
		if serviceID == "" {
			return nil, fmt.Errorf("policies file contains an empty service id")
		}
		policy := make(Policy, len(operations))
		for operation, perm := range operations {
			if operation == "" {
				return nil, fmt.Errorf("policy for service %q contains an empty operation", serviceID)
			}
			if len(perm.AnyOf) == 0 {
				return nil, fmt.Errorf("policy for service %q operation %q allows nobody", serviceID, operation)
			}
			policy[operation] = perm
		}
		policies[serviceID] = policy
	}

	logger.Info(context.Background(), "Loaded service policies",
		logging.String("path", path),
		logging.Int("services", len(policies)))
	return policies, nil
}
