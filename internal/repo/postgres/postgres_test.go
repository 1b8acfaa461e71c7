package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: repo.ErrNotFound},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: repo.ErrConflict},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, want: repo.ErrNotFound},
		{name: "exclusion", err: &pgconn.PgError{Code: "23P01"}, want: repo.ErrMeetingConflict},
		{
			name: "exclusion by message",
			err:  &pgconn.PgError{Code: "XX000", Message: `conflicting key value violates exclusion constraint "meetings_consultant_no_overlap"`},
			want: repo.ErrMeetingConflict,
		},
		{name: "gate session reuse", err: &pgconn.PgError{Code: "23505", ConstraintName: "leads_gate_session_key"}, want: repo.ErrAlreadyCaptured},
		{
			name: "block exclusion",
			err:  &pgconn.PgError{Code: "23P01", ConstraintName: "availability_blocks_no_overlap"},
			want: availability.ErrBlockOverlap,
		},
		{
			name: "block exclusion by message",
			err:  &pgconn.PgError{Code: "23P01", Message: `conflicting key value violates exclusion constraint "availability_blocks_no_overlap"`},
			want: availability.ErrBlockOverlap,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapError() = %v, want %v", got, tc.want)
			}
			if tc.want == availability.ErrBlockOverlap && errors.Is(got, repo.ErrMeetingConflict) {
				t.Fatalf("mapError() = %v, block overlap reported as meeting conflict", got)
			}
		})
	}

	if mapError("op", nil) != nil {
		t.Fatalf("mapError(nil) should be nil")
	}
	plain := errors.New("boom")
	got := mapError("insert lead", plain)
	if !errors.Is(got, plain) || !strings.HasPrefix(got.Error(), "insert lead: ") {
		t.Fatalf("mapError() = %v", got)
	}
	var pgErr *pgconn.PgError
	if !errors.As(mapError("op", &pgconn.PgError{Code: "23505"}), &pgErr) {
		t.Fatalf("mapError should keep the driver error in the chain")
	}
}

func TestScopeClause(t *testing.T) {
	tests := []struct {
		name     string
		scope    domain.LeadScope
		want     string
		wantArgs int
	}{
		{name: "all", scope: domain.LeadScope{Kind: domain.ScopeAll}, want: "", wantArgs: 0},
		{name: "own", scope: domain.LeadScope{Kind: domain.ScopeOwn, UserID: "u1"}, want: "(owner_id = $1 OR consultant_id = $1)", wantArgs: 1},
		{name: "team", scope: domain.LeadScope{Kind: domain.ScopeTeam, UserID: "u1", TeamID: "t1"}, want: "(team_id = $1 OR (owner_id = $2 OR consultant_id = $2))", wantArgs: 2},
		{name: "team without team", scope: domain.LeadScope{Kind: domain.ScopeTeam, UserID: "u1"}, want: "(owner_id = $1 OR consultant_id = $1)", wantArgs: 1},
		{name: "own without user", scope: domain.LeadScope{Kind: domain.ScopeOwn}, want: "FALSE", wantArgs: 0},
		{name: "none", scope: domain.LeadScope{Kind: domain.ScopeNone, UserID: "u1"}, want: "FALSE", wantArgs: 0},
		{name: "zero", scope: domain.LeadScope{}, want: "FALSE", wantArgs: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var w where
			got := w.scopeClause("", tc.scope)
			if got != tc.want {
				t.Fatalf("scopeClause()=%q, want %q", got, tc.want)
			}
			if len(w.args) != tc.wantArgs {
				t.Fatalf("args=%v, want %d", w.args, tc.wantArgs)
			}
		})
	}
}

func TestBuildListLeadsQuery(t *testing.T) {
	query, args := buildListLeadsQuery(repo.LeadFilter{
		Scope:   domain.LeadScope{Kind: domain.ScopeOwn, UserID: "u1"},
		StageID: "s1",
		Query:   "50%_off",
		Limit:   25,
		Offset:  50,
	})
	for _, want := range []string{
		"WHERE (owner_id = $1 OR consultant_id = $1) AND stage_id = $2",
		"(name ILIKE $3 OR company ILIKE $3 OR email ILIKE $3)",
		"ORDER BY created_at DESC, lead_id LIMIT $4 OFFSET $5",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
	if len(args) != 5 || args[2] != `%50\%\_off%` {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildListLeadsQuery_AllScopeHasNoPredicate(t *testing.T) {
	query, args := buildListLeadsQuery(repo.LeadFilter{Scope: domain.LeadScope{Kind: domain.ScopeAll}})
	if strings.Contains(query, "WHERE") {
		t.Fatalf("unexpected WHERE in %s", query)
	}
	if len(args) != 0 {
		t.Fatalf("args=%v, want none", args)
	}
}

func TestBuildListMeetingsQuery(t *testing.T) {
	scope := domain.LeadScope{Kind: domain.ScopeOwn, UserID: "u1"}
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	query, args := buildListMeetingsQuery(repo.MeetingFilter{
		Visibility: &scope,
		ViewerID:   "u1",
		LeadID:     "l1",
		From:       from,
	})
	for _, want := range []string{
		"JOIN leads l ON l.lead_id = m.lead_id",
		"WHERE ((l.owner_id = $1 OR l.consultant_id = $1) OR m.consultant_id = $2) AND m.lead_id = $3 AND m.ends_at > $4",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}

	query, _ = buildListMeetingsQuery(repo.MeetingFilter{ConsultantID: "c1"})
	if strings.Contains(query, "JOIN") || !strings.Contains(query, "WHERE m.consultant_id = $1") {
		t.Fatalf("unexpected query: %s", query)
	}
}

func TestNewStoresRejectNilDB(t *testing.T) {
	if NewLeadStore(nil) != nil || NewMeetingStore(nil) != nil || NewUserStore(nil) != nil {
		t.Fatalf("expected nil stores for nil db")
	}
	if NewTransactor(nil) != nil {
		t.Fatalf("expected nil transactor for nil db")
	}
}
