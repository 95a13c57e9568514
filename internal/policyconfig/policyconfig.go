package policyconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/services"
	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Version  int                  `yaml:"version"`
	Defaults yaml.Node            `yaml:"defaults"`
	Tenants  map[string]yaml.Node `yaml:"tenants"`
}

// Config holds the resolved policy of every configured tenant. Tenant
// overrides are layered onto the file defaults, which are layered onto the
// built-in defaults: scalars and lists replace, maps merge by key.
type Config struct {
	defaults types.Policy
	tenants  map[string]types.Policy
}

var _ ports.PolicyProvider = (*Config)(nil)

// Default is the provider used when no policy file exists.
func Default() *Config {
	return &Config{defaults: types.DefaultPolicy(), tenants: map[string]types.Policy{}}
}

func (c *Config) Get(_ context.Context, tenantID string) (types.Policy, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return types.Policy{}, types.NewValidationError("tenant_id is required")
	}
	if p, ok := c.tenants[tenantID]; ok {
		return clonePolicy(p), nil
	}
	return clonePolicy(c.defaults), nil
}

// Tenants lists tenants with explicit overrides, sorted.
func (c *Config) Tenants() []string {
	return slices.Sorted(maps.Keys(c.tenants))
}

func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f policyFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("policyconfig: %w", err)
	}
	if f.Version != 1 {
		return nil, errors.New("policyconfig: unsupported version")
	}

	defaults := types.DefaultPolicy()
	if err := overlay(&defaults, &f.Defaults); err != nil {
		return nil, fmt.Errorf("policyconfig: defaults: %w", err)
	}
	if err := validate(defaults); err != nil {
		return nil, fmt.Errorf("policyconfig: defaults: %w", err)
	}

	cfg := &Config{defaults: defaults, tenants: make(map[string]types.Policy, len(f.Tenants))}
	for id, node := range f.Tenants {
		if strings.TrimSpace(id) == "" {
			return nil, errors.New("policyconfig: empty tenant id")
		}
		p := clonePolicy(defaults)
		if err := overlay(&p, &node); err != nil {
			return nil, fmt.Errorf("policyconfig: tenant %s: %w", id, err)
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("policyconfig: tenant %s: %w", id, err)
		}
		cfg.tenants[id] = p
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// LoadFromEnv reads CONFLICT_POLICY_PATH, falling back to
// config/conflict_policies.yaml found by walking up from the working
// directory, and finally to the built-in defaults.
func LoadFromEnv() (*Config, string, error) {
	path := strings.TrimSpace(os.Getenv("CONFLICT_POLICY_PATH"))
	if path == "" {
		p, ok := defaultPolicyPath()
		if !ok {
			return Default(), "", nil
		}
		path = p
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func defaultPolicyPath() (string, bool) {
	path := "config/conflict_policies.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		path = filepath.Join("..", path)
	}
	return "", false
}

// overlay decodes node onto p. The node is re-encoded so unknown keys are
// rejected the same way as at the top level.
func overlay(p *types.Policy, node *yaml.Node) error {
	if node.Kind == 0 {
		return nil
	}
	b, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(p)
}

func validate(p types.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, field := range slices.Sorted(maps.Keys(p.FieldRules)) {
		if err := services.CompileFieldRule(p.FieldRules[field]); err != nil {
			return fmt.Errorf("field rule for %s: %w", field, err)
		}
	}
	if len(p.EntityTypes) == 0 {
		return types.NewValidationError("entity_types must not be empty")
	}
	return nil
}

func clonePolicy(p types.Policy) types.Policy {
	out := p
	out.NumericFields = slices.Clone(p.NumericFields)
	out.PreferHigher = slices.Clone(p.PreferHigher)
	out.PreferLower = slices.Clone(p.PreferLower)
	out.EntityTypes = slices.Clone(p.EntityTypes)
	out.Tolerances = maps.Clone(p.Tolerances)
	out.SeverityBands = maps.Clone(p.SeverityBands)
	out.DefaultStrategies = maps.Clone(p.DefaultStrategies)
	out.FieldRules = maps.Clone(p.FieldRules)
	return out
}
