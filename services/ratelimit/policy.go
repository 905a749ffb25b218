package ratelimit

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type EndpointClass string

const (
	ClassLogin            EndpointClass = "login"
	ClassRegistration     EndpointClass = "registration"
	ClassPasswordReset    EndpointClass = "password_reset"
	ClassAPI              EndpointClass = "api"
	ClassReportSubmission EndpointClass = "report_submission"
	ClassExtensionSync    EndpointClass = "extension_sync"
	ClassAdmin            EndpointClass = "admin"
)

type Policy struct {
	Class       EndpointClass
	Window      time.Duration
	MaxRequests int
	Scopes      []Scope
	Message     string
	Active      bool
}

// Keys returns one key per scope whose dimensions the identity carries,
// falling back to the ip scope when none apply.
func (p Policy) Keys(id Identity) []Key {
	keys := make([]Key, 0, len(p.Scopes))
	seen := make(map[string]struct{}, len(p.Scopes))
	for _, s := range p.Scopes {
		k, ok := KeyFor(s, id)
		if !ok {
			continue
		}
		if _, dup := seen[k.String()]; dup {
			continue
		}
		seen[k.String()] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		ip := id.IP
		if ip == "" {
			ip = "unknown"
		}
		keys = append(keys, Key{Scope: ScopeIP.Name, raw: ip})
	}
	return keys
}

func (p Policy) ScopeNames() []string {
	names := make([]string, len(p.Scopes))
	for i, s := range p.Scopes {
		names[i] = s.Name
	}
	return names
}

// DefaultRoleMultipliers scale maxRequests per role; anonymous is the most restrictive.
var DefaultRoleMultipliers = map[model.Role]float64{
	model.RoleAnonymous: 1,
	model.RoleUser:      2,
	model.RoleMod:       5,
	model.RoleAdmin:     10,
}

var DefaultExemptPaths = []string{"/ping", "/health", "/status", "/api/v1/ping", "/api/v1/status", "/metrics"}

func DefaultPolicies() map[EndpointClass]Policy {
	return map[EndpointClass]Policy{
		ClassLogin: {
			Class:       ClassLogin,
			Window:      15 * time.Minute,
			MaxRequests: 10,
			Scopes:      []Scope{ScopeIPEmail},
			Message:     "Too many login attempts. Please try again later.",
			Active:      true,
		},
		ClassRegistration: {
			Class:       ClassRegistration,
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Scopes:      []Scope{ScopeIPEmail, ScopeIP},
			Message:     "Too many registration attempts. Please try again later.",
			Active:      true,
		},
		ClassPasswordReset: {
			Class:       ClassPasswordReset,
			Window:      15 * time.Minute,
			MaxRequests: 3,
			Scopes:      []Scope{ScopeIPEmail},
			Message:     "Too many password reset requests. Please try again later.",
			Active:      true,
		},
		ClassAPI: {
			Class:       ClassAPI,
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Scopes:      []Scope{ScopeIP, ScopeUserRole},
			Message:     "Too many requests. Please slow down.",
			Active:      true,
		},
		ClassReportSubmission: {
			Class:       ClassReportSubmission,
			Window:      time.Hour,
			MaxRequests: 10,
			Scopes:      []Scope{ScopeIP, ScopeBrowser},
			Message:     "Too many reports submitted. Please try again later.",
			Active:      true,
		},
		ClassExtensionSync: {
			Class:       ClassExtensionSync,
			Window:      time.Minute,
			MaxRequests: 60,
			Scopes:      []Scope{ScopeIPExtension, ScopeExtension},
			Message:     "Extension is syncing too often.",
			Active:      true,
		},
		ClassAdmin: {
			Class:       ClassAdmin,
			Window:      15 * time.Minute,
			MaxRequests: 300,
			Scopes:      []Scope{ScopeUserRole},
			Message:     "Too many administrative requests.",
			Active:      true,
		},
	}
}

// PolicyUpdate is a partial change; nil fields are left alone.
type PolicyUpdate struct {
	MaxRequests *int
	Window      *time.Duration
	Active      *bool
}

// Registry is the versioned quota table.
type Registry struct {
	mu          sync.RWMutex
	policies    map[EndpointClass]Policy
	multipliers map[model.Role]float64
	exempt      map[string]struct{}
	version     int64
}

func NewRegistry() *Registry {
	r := &Registry{
		policies:    DefaultPolicies(),
		multipliers: make(map[model.Role]float64, len(DefaultRoleMultipliers)),
		exempt:      make(map[string]struct{}, len(DefaultExemptPaths)),
		version:     1,
	}
	for role, m := range DefaultRoleMultipliers {
		r.multipliers[role] = m
	}
	for _, p := range DefaultExemptPaths {
		r.exempt[p] = struct{}{}
	}
	return r
}

func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Registry) Policy(class EndpointClass) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[class]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return p, nil
}

// Policies returns a snapshot ordered by class name.
func (r *Registry) Policies() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func (r *Registry) Multiplier(role model.Role) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.multipliers[role]; ok {
		return m
	}
	return r.multipliers[model.RoleAnonymous]
}

func (r *Registry) Multipliers() map[model.Role]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.Role]float64, len(r.multipliers))
	for k, v := range r.multipliers {
		out[k] = v
	}
	return out
}

// roleOrder lists roles from most to least restrictive.
var roleOrder = []model.Role{model.RoleAnonymous, model.RoleUser, model.RoleMod, model.RoleAdmin}

// ScaledMax applies the role multiplier to a base limit, rounding up. Each
// role gets at least one request more than the role below it, so small bases
// never collapse two roles onto the same limit.
func (r *Registry) ScaledMax(base int, role model.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rank := role.Rank()
	scaled := 0
	for i, step := range roleOrder {
		if i > rank {
			break
		}
		m, ok := r.multipliers[step]
		if !ok {
			m = r.multipliers[model.RoleAnonymous]
		}
		v := int(math.Ceil(float64(base)*m - 1e-9))
		if v < 1 {
			v = 1
		}
		if v <= scaled {
			v = scaled + 1
		}
		scaled = v
	}
	return scaled
}

func (r *Registry) IsExempt(path string) bool {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exempt[path]
	return ok
}

func (r *Registry) ExemptPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exempt))
	for p := range r.exempt {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Update(class EndpointClass, upd PolicyUpdate) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[class]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if upd.MaxRequests != nil {
		if *upd.MaxRequests < 1 {
			return Policy{}, fmt.Errorf("max requests must be at least 1, got %d", *upd.MaxRequests)
		}
		p.MaxRequests = *upd.MaxRequests
	}
	if upd.Window != nil {
		if *upd.Window <= 0 {
			return Policy{}, fmt.Errorf("window must be positive, got %s", *upd.Window)
		}
		p.Window = *upd.Window
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	r.policies[class] = p
	r.version++

	log.WithFields(log.Fields{
		"class":   class,
		"max":     p.MaxRequests,
		"window":  p.Window,
		"active":  p.Active,
		"version": r.version,
	}).Info("Quota policy updated")
	return p, nil
}

type policyFile struct {
	Policies map[string]struct {
		MaxRequests *int     `yaml:"max_requests"`
		Window      string   `yaml:"window"`
		Scopes      []string `yaml:"scopes"`
		Message     string   `yaml:"message"`
		Active      *bool    `yaml:"active"`
	} `yaml:"policies"`
	RoleMultipliers map[string]float64 `yaml:"role_multipliers"`
	ExemptPaths     []string           `yaml:"exempt_paths"`
}

// LoadFile applies overrides from a YAML policy file.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	return r.Load(raw)
}

func (r *Registry) Load(raw []byte) error {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[EndpointClass]Policy, len(r.policies))
	for k, v := range r.policies {
		next[k] = v
	}

	for name, override := range file.Policies {
		class := EndpointClass(name)
		p, ok := next[class]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownClass, name)
		}
		if override.MaxRequests != nil {
			if *override.MaxRequests < 1 {
				return fmt.Errorf("policy %s: max_requests must be at least 1", name)
			}
			p.MaxRequests = *override.MaxRequests
		}
		if override.Window != "" {
			d, err := time.ParseDuration(override.Window)
			if err != nil || d <= 0 {
				return fmt.Errorf("policy %s: invalid window %q", name, override.Window)
			}
			p.Window = d
		}
		if len(override.Scopes) > 0 {
			scopes := make([]Scope, 0, len(override.Scopes))
			for _, s := range override.Scopes {
				scope, ok := ParseScope(s)
				if !ok {
					return fmt.Errorf("policy %s: unknown scope %q", name, s)
				}
				scopes = append(scopes, scope)
			}
			p.Scopes = scopes
		}
		if override.Message != "" {
			p.Message = override.Message
		}
		if override.Active != nil {
			p.Active = *override.Active
		}
		next[class] = p
	}

	multipliers := make(map[model.Role]float64, len(r.multipliers))
	for k, v := range r.multipliers {
		multipliers[k] = v
	}
	for name, m := range file.RoleMultipliers {
		multipliers[model.ParseRole(name)] = m
	}
	if err := checkMultipliers(multipliers); err != nil {
		return err
	}

	r.policies = next
	r.multipliers = multipliers
	if len(file.ExemptPaths) > 0 {
		r.exempt = make(map[string]struct{}, len(file.ExemptPaths))
		for _, p := range file.ExemptPaths {
			r.exempt[p] = struct{}{}
		}
	}
	r.version++
	return nil
}

// checkMultipliers keeps anonymous < user < moderator < admin.
func checkMultipliers(m map[model.Role]float64) error {
	order := roleOrder
	for i := 1; i < len(order); i++ {
		if m[order[i]] <= m[order[i-1]] {
			return fmt.Errorf("role multiplier for %s must exceed %s", order[i], order[i-1])
		}
	}
	if m[model.RoleAnonymous] <= 0 {
		return fmt.Errorf("anonymous multiplier must be positive")
	}
	return nil
}
