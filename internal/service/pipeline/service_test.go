package pipeline

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

func principal(id string, role domain.Role, team string) access.Principal {
	return access.Principal{UserID: id, Role: role, TeamID: team, Permissions: access.Defaults(role)}
}

func newService(t *testing.T) (*Service, *memory.DB) {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	if err := db.CreateTeam(ctx, domain.Team{ID: "team-a", Name: "A"}); err != nil {
		t.Fatalf("CreateTeam() err=%v", err)
	}
	for _, u := range []domain.User{
		{ID: "admin", Email: "admin@example.com", DisplayName: "Admin", Role: domain.RoleAdmin, Active: true},
		{ID: "mgr", Email: "mgr@example.com", DisplayName: "Manager", Role: domain.RoleManager, TeamID: "team-a", Active: true},
		{ID: "sdr", Email: "sdr@example.com", DisplayName: "SDR", Role: domain.RoleSDR, TeamID: "team-a", Active: true},
		{ID: "sdr2", Email: "sdr2@example.com", DisplayName: "SDR Two", Role: domain.RoleSDR, Active: true},
	} {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s) err=%v", u.ID, err)
		}
	}
	svc := New(db.Stores(), db)
	if svc == nil {
		t.Fatalf("New() returned nil")
	}
	return svc, db
}

func auditInfo(p access.Principal) service.AuditInfo {
	return service.AuditInfo{Actor: p.Actor(), RequestID: "req-1"}
}

func TestStageLifecycle(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	admin := principal("admin", domain.RoleAdmin, "")

	var ids []string
	for _, in := range []StageInput{{Name: "New"}, {Name: "Demo"}, {Name: "Won", IsWon: true}} {
		stage, err := svc.CreateStage(ctx, admin, auditInfo(admin), in)
		if err != nil {
			t.Fatalf("CreateStage(%s) err=%v", in.Name, err)
		}
		ids = append(ids, stage.ID)
	}
	stages, err := svc.Stages(ctx, admin)
	if err != nil {
		t.Fatalf("Stages() err=%v", err)
	}
	if len(stages) != 3 || stages[0].Name != "New" || stages[2].Position != 2 {
		t.Fatalf("stages=%+v", stages)
	}

	if _, err := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "Both", IsWon: true, IsLost: true}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("CreateStage(won+lost) err=%v, want ErrInvalidInput", err)
	}
	if _, err := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "New"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("CreateStage(duplicate) err=%v, want ErrConflict", err)
	}

	name := "Discovery"
	updated, err := svc.UpdateStage(ctx, admin, auditInfo(admin), ids[1], StagePatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateStage() err=%v", err)
	}
	if updated.Name != "Discovery" || updated.Position != 1 {
		t.Fatalf("updated=%+v", updated)
	}
	lost := true
	if _, err := svc.UpdateStage(ctx, admin, auditInfo(admin), ids[2], StagePatch{IsLost: &lost}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("UpdateStage(won+lost) err=%v, want ErrInvalidInput", err)
	}

	reordered, err := svc.Reorder(ctx, admin, auditInfo(admin), []string{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("Reorder() err=%v", err)
	}
	if reordered[0].ID != ids[2] || reordered[2].ID != ids[1] {
		t.Fatalf("reordered=%+v", reordered)
	}

	if err := db.CreateLead(ctx, domain.Lead{ID: "l1", Name: "Acme", StageID: ids[0], OwnerID: "sdr"}); err != nil {
		t.Fatalf("CreateLead() err=%v", err)
	}
	if err := svc.DeleteStage(ctx, admin, auditInfo(admin), ids[0]); !errors.Is(err, repo.ErrStageInUse) {
		t.Fatalf("DeleteStage(in use) err=%v, want ErrStageInUse", err)
	}
	if err := svc.DeleteStage(ctx, admin, auditInfo(admin), ids[1]); err != nil {
		t.Fatalf("DeleteStage() err=%v", err)
	}
	if err := svc.DeleteStage(ctx, admin, auditInfo(admin), ids[1]); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("DeleteStage(again) err=%v, want ErrNotFound", err)
	}

	var actions []string
	for _, ev := range db.AuditEvents() {
		actions = append(actions, ev.Action)
	}
	want := []string{"pipeline.stage_created", "pipeline.stage_created", "pipeline.stage_created", "pipeline.stage_updated", "pipeline.reordered", "pipeline.stage_deleted"}
	if len(actions) != len(want) {
		t.Fatalf("actions=%v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("actions=%v, want %v", actions, want)
		}
	}
}

func TestReorderRejectsPartialPermutation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := principal("admin", domain.RoleAdmin, "")
	a, err := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "A"})
	if err != nil {
		t.Fatalf("CreateStage() err=%v", err)
	}
	b, err := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "B"})
	if err != nil {
		t.Fatalf("CreateStage() err=%v", err)
	}

	cases := map[string][]string{
		"missing":   {a.ID},
		"duplicate": {a.ID, a.ID},
		"unknown":   {a.ID, "nope"},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Reorder(ctx, admin, auditInfo(admin), ids); !errors.Is(err, service.ErrInvalidInput) {
				t.Fatalf("Reorder(%v) err=%v, want ErrInvalidInput", ids, err)
			}
		})
	}

	stages, err := svc.Stages(ctx, admin)
	if err != nil {
		t.Fatalf("Stages() err=%v", err)
	}
	if stages[0].ID != a.ID || stages[1].ID != b.ID {
		t.Fatalf("order changed after rejected reorder: %+v", stages)
	}
}

func TestPermissions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sdr := principal("sdr", domain.RoleSDR, "team-a")

	if _, err := svc.Stages(ctx, sdr); err != nil {
		t.Fatalf("Stages(sdr) err=%v", err)
	}
	if _, err := svc.CreateStage(ctx, sdr, auditInfo(sdr), StageInput{Name: "X"}); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("CreateStage(sdr) err=%v, want ErrForbidden", err)
	}
	if _, err := svc.Reorder(ctx, sdr, auditInfo(sdr), nil); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("Reorder(sdr) err=%v, want ErrForbidden", err)
	}
	if _, err := svc.Summary(ctx, sdr); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("Summary(sdr) err=%v, want ErrForbidden", err)
	}
	if _, err := svc.Stages(ctx, access.Principal{UserID: "x"}); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("Stages(no perms) err=%v, want ErrForbidden", err)
	}
}

func TestSummaryScopesTotals(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	admin := principal("admin", domain.RoleAdmin, "")
	mgr := principal("mgr", domain.RoleManager, "team-a")

	open, _ := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "Open"})
	won, _ := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "Won", IsWon: true})
	lost, _ := svc.CreateStage(ctx, admin, auditInfo(admin), StageInput{Name: "Lost", IsLost: true})

	empty, err := svc.Summary(ctx, admin)
	if err != nil {
		t.Fatalf("Summary(empty) err=%v", err)
	}
	if empty.WinRateDefined || empty.TotalCount != 0 || len(empty.Stages) != 3 {
		t.Fatalf("empty=%+v", empty)
	}

	leads := []domain.Lead{
		{ID: "l1", Name: "A", StageID: open.ID, OwnerID: "sdr", TeamID: "team-a", ValueCents: 100},
		{ID: "l2", Name: "B", StageID: won.ID, OwnerID: "sdr", TeamID: "team-a", ValueCents: 300},
		{ID: "l3", Name: "C", StageID: lost.ID, OwnerID: "sdr", TeamID: "team-a", ValueCents: 50},
		{ID: "l4", Name: "D", StageID: lost.ID, OwnerID: "sdr", TeamID: "team-a"},
		{ID: "l5", Name: "E", StageID: won.ID, OwnerID: "sdr2", ValueCents: 1000},
	}
	for _, l := range leads {
		if err := db.CreateLead(ctx, l); err != nil {
			t.Fatalf("CreateLead(%s) err=%v", l.ID, err)
		}
	}

	all, err := svc.Summary(ctx, admin)
	if err != nil {
		t.Fatalf("Summary(admin) err=%v", err)
	}
	if all.Scope != domain.ScopeAll || all.TotalCount != 5 || all.WonCount != 2 || all.WonValue != 1300 {
		t.Fatalf("all=%+v", all)
	}
	if !all.WinRateDefined || all.WinRate != 0.5 {
		t.Fatalf("win rate=%v defined=%v, want 0.5", all.WinRate, all.WinRateDefined)
	}

	team, err := svc.Summary(ctx, mgr)
	if err != nil {
		t.Fatalf("Summary(mgr) err=%v", err)
	}
	if team.Scope != domain.ScopeTeam || team.TotalCount != 4 || team.OpenCount != 1 || team.OpenValue != 100 {
		t.Fatalf("team=%+v", team)
	}
	if team.LostCount != 2 || team.WinRate != 1.0/3.0 {
		t.Fatalf("team lost=%d rate=%v", team.LostCount, team.WinRate)
	}
}
