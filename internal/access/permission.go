// Package access maps roles to permission tags and derives the lead scope a
// principal may read.
package access

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a capability tag of the form noun.verb[.scope].
type Permission string

const (
	LeadsReadAll          Permission = "leads.read.all"
	LeadsReadTeam         Permission = "leads.read.team"
	LeadsReadOwn          Permission = "leads.read.own"
	LeadsCreate           Permission = "leads.create"
	LeadsUpdate           Permission = "leads.update"
	LeadsDelete           Permission = "leads.delete"
	LeadsAssign           Permission = "leads.assign"
	PipelineRead          Permission = "pipeline.read"
	PipelineManage        Permission = "pipeline.manage"
	MeetingsRead          Permission = "meetings.read"
	MeetingsSchedule      Permission = "meetings.schedule"
	MeetingsManage        Permission = "meetings.manage"
	AvailabilityRead      Permission = "availability.read"
	AvailabilityManageOwn Permission = "availability.manage.own"
	AvailabilityManageAny Permission = "availability.manage.any"
	UsersRead             Permission = "users.read"
	UsersManage           Permission = "users.manage"
	PermissionsManage     Permission = "permissions.manage"
	ReportsRead           Permission = "reports.read"
	AuditRead             Permission = "audit.read"
	AuditExport           Permission = "audit.export"
	FunnelRead            Permission = "funnel.read"
)

// All lists every known tag.
var All = []Permission{
	LeadsReadAll, LeadsReadTeam, LeadsReadOwn,
	LeadsCreate, LeadsUpdate, LeadsDelete, LeadsAssign,
	PipelineRead, PipelineManage,
	MeetingsRead, MeetingsSchedule, MeetingsManage,
	AvailabilityRead, AvailabilityManageOwn, AvailabilityManageAny,
	UsersRead, UsersManage,
	PermissionsManage,
	ReportsRead,
	AuditRead, AuditExport,
	FunnelRead,
}

var known = func() map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(All))
	for _, p := range All {
		out[p] = struct{}{}
	}
	return out
}()

func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := known[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", raw)
	}
	return p, nil
}

// Set is an immutable-by-convention collection of tags.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	out := make(Set, len(perms))
	for _, p := range perms {
		out[p] = struct{}{}
	}
	return out
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the tags in lexical order.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}

func (s Set) without(drop ...Permission) Set {
	out := make(Set, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	for _, p := range drop {
		delete(out, p)
	}
	return out
}

// SetFromStrings drops unknown tags. It is used for tags carried in
// session tokens, which were validated when issued.
func SetFromStrings(raw []string) Set {
	out := make(Set, len(raw))
	for _, r := range raw {
		if p, err := ParsePermission(r); err == nil {
			out[p] = struct{}{}
		}
	}
	return out
}
