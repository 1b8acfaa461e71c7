package access

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leadline-labs/leadline/internal/domain"
)

// SettingsKey is where the override document is stored.
const SettingsKey = "permission_matrix"

var (
	ErrInvalidOverride = errors.New("invalid permission override")
	ErrAdminLockout    = errors.New("override would remove permissions.manage from ADMIN")
)

var defaults = map[domain.Role]Set{
	domain.RoleAdmin:    NewSet(All...),
	domain.RoleDirector: NewSet(All...).without(UsersManage, PermissionsManage),
	domain.RoleManager: NewSet(
		LeadsReadTeam, LeadsCreate, LeadsUpdate, LeadsAssign,
		PipelineRead,
		MeetingsRead, MeetingsSchedule, MeetingsManage,
		AvailabilityRead, AvailabilityManageOwn,
		UsersRead,
		ReportsRead,
		FunnelRead,
	),
	domain.RoleSDR: NewSet(
		LeadsReadOwn, LeadsCreate, LeadsUpdate,
		PipelineRead,
		MeetingsRead, MeetingsSchedule,
		AvailabilityRead,
	),
	domain.RoleConsultant: NewSet(
		LeadsReadOwn, LeadsUpdate,
		PipelineRead,
		MeetingsRead,
		AvailabilityRead, AvailabilityManageOwn,
	),
}

// Defaults returns the built-in set for role.
func Defaults(role domain.Role) Set {
	return defaults[role].without()
}

// Override replaces the permission sets of the roles it names.
type Override struct {
	Roles map[domain.Role]Set
}

type overrideDocument struct {
	Roles map[string][]string `json:"roles"`
}

// ParseOverride decodes and validates an override document.
func ParseOverride(raw []byte) (Override, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var doc overrideDocument
	if err := dec.Decode(&doc); err != nil {
		return Override{}, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if doc.Roles == nil {
		return Override{}, fmt.Errorf("%w: roles is required", ErrInvalidOverride)
	}

	out := Override{Roles: make(map[domain.Role]Set, len(doc.Roles))}
	for rawRole, tags := range doc.Roles {
		role, err := domain.ParseRole(rawRole)
		if err != nil {
			return Override{}, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
		}
		if _, dup := out.Roles[role]; dup {
			return Override{}, fmt.Errorf("%w: role %s listed twice", ErrInvalidOverride, role)
		}
		set := make(Set, len(tags))
		for _, tag := range tags {
			p, err := ParsePermission(tag)
			if err != nil {
				return Override{}, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, role, err)
			}
			set[p] = struct{}{}
		}
		out.Roles[role] = set
	}
	if err := out.Validate(); err != nil {
		return Override{}, err
	}
	return out, nil
}

// Validate enforces the lockout guard.
func (o Override) Validate() error {
	if set, ok := o.Roles[domain.RoleAdmin]; ok && !set.Has(PermissionsManage) {
		return ErrAdminLockout
	}
	return nil
}

// MarshalJSON writes the canonical document form with sorted tags.
func (o Override) MarshalJSON() ([]byte, error) {
	doc := overrideDocument{Roles: make(map[string][]string, len(o.Roles))}
	for role, set := range o.Roles {
		doc.Roles[string(role)] = set.Strings()
	}
	return json.Marshal(doc)
}

// Resolve returns the effective set for role. Unknown roles get nothing.
func Resolve(role domain.Role, override Override) Set {
	if set, ok := override.Roles[role]; ok {
		return set.without()
	}
	return Defaults(role)
}

// Matrix is the effective role table under one override.
type Matrix struct {
	Override Override
}

// Effective returns every role's resolved tags, sorted, keyed by role name.
func (m Matrix) Effective() map[string][]string {
	out := make(map[string][]string, len(domain.Roles))
	for _, role := range domain.Roles {
		out[string(role)] = Resolve(role, m.Override).Strings()
	}
	return out
}

// Overridden lists the roles whose sets come from the override.
func (m Matrix) Overridden() []string {
	out := make([]string, 0, len(m.Override.Roles))
	for _, role := range domain.Roles {
		if _, ok := m.Override.Roles[role]; ok {
			out = append(out, string(role))
		}
	}
	return out
}
