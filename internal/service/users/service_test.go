package users

import (
	"context"
	"errors"
	"testing"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/repo/memory"
	"github.com/leadline-labs/leadline/internal/service"
)

func setup(t *testing.T) (*Service, *memory.DB, access.Principal) {
	t.Helper()
	db := memory.New()
	svc := New(db.Stores(), db)
	if svc == nil {
		t.Fatalf("New() returned nil")
	}
	admin, created, err := svc.Bootstrap(context.Background(), service.AuditInfo{Actor: "system:bootstrap"}, "Root@Example.com", "")
	if err != nil {
		t.Fatalf("Bootstrap() err=%v", err)
	}
	if !created || admin.Role != domain.RoleAdmin || admin.Email != "root@example.com" {
		t.Fatalf("admin=%+v created=%v", admin, created)
	}
	p := access.Principal{UserID: admin.ID, Role: admin.Role, Permissions: access.Defaults(admin.Role)}
	return svc, db, p
}

func TestBootstrapIsIdempotent(t *testing.T) {
	svc, db, p := setup(t)
	again, created, err := svc.Bootstrap(context.Background(), service.AuditInfo{Actor: "system:bootstrap"}, "root@example.com", "Root")
	if err != nil {
		t.Fatalf("Bootstrap() err=%v", err)
	}
	if created || again.ID != p.UserID {
		t.Fatalf("again=%+v created=%v", again, created)
	}
	if got := len(db.AuditEvents()); got != 1 {
		t.Fatalf("audit events=%d, want 1", got)
	}
}

func TestCreateAndUpdate(t *testing.T) {
	svc, _, admin := setup(t)
	ctx := context.Background()
	info := service.AuditInfo{Actor: admin.Actor()}

	team, err := svc.CreateTeam(ctx, admin, info, TeamInput{Name: "North", ManagerID: admin.UserID})
	if err != nil {
		t.Fatalf("CreateTeam() err=%v", err)
	}
	if _, err := svc.CreateTeam(ctx, admin, info, TeamInput{Name: "North"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("CreateTeam(duplicate) err=%v, want ErrConflict", err)
	}

	user, err := svc.Create(ctx, admin, info, CreateInput{Email: "sdr@example.com", DisplayName: "Sam", Role: "sdr", TeamID: team.ID, Timezone: "Europe/Berlin"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if user.Role != domain.RoleSDR || user.TeamID != team.ID || !user.Active {
		t.Fatalf("user=%+v", user)
	}

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"bad role", CreateInput{Email: "a@example.com", DisplayName: "A", Role: "boss"}},
		{"bad email", CreateInput{Email: "nope", DisplayName: "A", Role: "SDR"}},
		{"bad timezone", CreateInput{Email: "a@example.com", DisplayName: "A", Role: "SDR", Timezone: "Mars/Base"}},
		{"unknown team", CreateInput{Email: "a@example.com", DisplayName: "A", Role: "SDR", TeamID: "missing"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, admin, info, tc.in); !errors.Is(err, service.ErrInvalidInput) {
				t.Fatalf("Create() err=%v, want ErrInvalidInput", err)
			}
		})
	}
	if _, err := svc.Create(ctx, admin, info, CreateInput{Email: "SDR@example.com", DisplayName: "Dup", Role: "SDR"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("Create(duplicate email) err=%v, want ErrConflict", err)
	}

	off := false
	role := "CONSULTANT"
	updated, err := svc.Update(ctx, admin, info, user.ID, UpdateInput{Active: &off, Role: &role})
	if err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if updated.Active || updated.Role != domain.RoleConsultant {
		t.Fatalf("updated=%+v", updated)
	}

	if _, err := svc.Update(ctx, admin, info, admin.UserID, UpdateInput{Active: &off}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("Update(self deactivate) err=%v, want ErrInvalidInput", err)
	}
	if _, err := svc.Update(ctx, admin, info, admin.UserID, UpdateInput{Role: &role}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("Update(self demote) err=%v, want ErrInvalidInput", err)
	}

	active := true
	list, err := svc.List(ctx, admin, ListInput{Active: &active})
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(list) != 1 || list[0].ID != admin.UserID {
		t.Fatalf("active users=%+v", list)
	}
}

func TestPermissions(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	sdr := access.Principal{UserID: "sdr", Role: domain.RoleSDR, Permissions: access.Defaults(domain.RoleSDR)}
	mgr := access.Principal{UserID: "mgr", Role: domain.RoleManager, Permissions: access.Defaults(domain.RoleManager)}

	if _, err := svc.List(ctx, sdr, ListInput{}); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("List(sdr) err=%v, want ErrForbidden", err)
	}
	if _, err := svc.List(ctx, mgr, ListInput{}); err != nil {
		t.Fatalf("List(mgr) err=%v", err)
	}
	if _, err := svc.Create(ctx, mgr, service.AuditInfo{Actor: mgr.Actor()}, CreateInput{Email: "x@example.com", DisplayName: "X", Role: "SDR"}); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("Create(mgr) err=%v, want ErrForbidden", err)
	}
	if _, err := svc.CreateTeam(ctx, mgr, service.AuditInfo{Actor: mgr.Actor()}, TeamInput{Name: "X"}); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("CreateTeam(mgr) err=%v, want ErrForbidden", err)
	}
}
