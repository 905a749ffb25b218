package ratelimit

import (
	"encoding/hex"
	"strings"

	"github.com/lac-hong-legacy/guard_api/model"
	"golang.org/x/crypto/blake2b"
)

// Dimension is one attribute of a caller that a scope can key on.
type Dimension string

const (
	DimIP        Dimension = "ip"
	DimEmail     Dimension = "email"
	DimUser      Dimension = "user"
	DimRole      Dimension = "role"
	DimBrowser   Dimension = "uuid"
	DimExtension Dimension = "extension"
)

// Identity carries everything the admission path knows about a caller.
type Identity struct {
	IP          string
	Email       string
	UserID      string
	Role        model.Role
	BrowserUUID string
	ExtensionID string
}

func (id Identity) value(d Dimension) string {
	switch d {
	case DimIP:
		return strings.TrimSpace(id.IP)
	case DimEmail:
		return strings.ToLower(strings.TrimSpace(id.Email))
	case DimUser:
		return strings.TrimSpace(id.UserID)
	case DimRole:
		if id.UserID == "" {
			return ""
		}
		return string(id.EffectiveRole())
	case DimBrowser:
		return strings.ToLower(strings.TrimSpace(id.BrowserUUID))
	case DimExtension:
		return strings.TrimSpace(id.ExtensionID)
	}
	return ""
}

// EffectiveRole is anonymous for unauthenticated callers regardless of any claimed role.
func (id Identity) EffectiveRole() model.Role {
	if id.UserID == "" || id.Role == "" {
		return model.RoleAnonymous
	}
	return id.Role
}

// Scope is a named combination of dimensions, e.g. "ip+email".
type Scope struct {
	Name string
	Dims []Dimension
}

func NewScope(dims ...Dimension) Scope {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	return Scope{Name: strings.Join(names, "+"), Dims: dims}
}

var (
	ScopeIP          = NewScope(DimIP)
	ScopeIPEmail     = NewScope(DimIP, DimEmail)
	ScopeUserRole    = NewScope(DimUser, DimRole)
	ScopeBrowser     = NewScope(DimBrowser)
	ScopeExtension   = NewScope(DimExtension)
	ScopeIPExtension = NewScope(DimIP, DimExtension, DimBrowser)
)

var knownScopes = map[string]Scope{
	ScopeIP.Name:          ScopeIP,
	ScopeIPEmail.Name:     ScopeIPEmail,
	ScopeUserRole.Name:    ScopeUserRole,
	ScopeBrowser.Name:     ScopeBrowser,
	ScopeExtension.Name:   ScopeExtension,
	ScopeIPExtension.Name: ScopeIPExtension,
}

// ParseScope resolves a scope name as written in policy files.
func ParseScope(name string) (Scope, bool) {
	s, ok := knownScopes[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Key identifies one quota bucket. The raw identity is only ever stored hashed.
type Key struct {
	Scope string
	raw   string
}

// KeyFor builds the key for scope, reporting false when a dimension is missing.
func KeyFor(scope Scope, id Identity) (Key, bool) {
	parts := make([]string, 0, len(scope.Dims))
	for _, d := range scope.Dims {
		v := id.value(d)
		if v == "" {
			return Key{}, false
		}
		parts = append(parts, v)
	}
	return Key{Scope: scope.Name, raw: strings.Join(parts, "\x1f")}, true
}

func (k Key) String() string {
	sum, _ := blake2b.New(16, nil)
	sum.Write([]byte(k.raw))
	return k.Scope + ":" + hex.EncodeToString(sum.Sum(nil))
}
