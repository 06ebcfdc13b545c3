package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/authz"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/observability"
	"github.com/sitedesk/sitedesk/pkg/orgs"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			name TEXT
		);

		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);

		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_system INTEGER NOT NULL DEFAULT 0,
			permission_ids TEXT NOT NULL DEFAULT '[]',
			scopes TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_by INTEGER,
			UNIQUE(organization_id, name)
		);

		CREATE TABLE org_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			invited_by INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(organization_id, user_id)
		);

		CREATE TABLE project_access (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			member_id INTEGER NOT NULL,
			project_id INTEGER NOT NULL,
			granted_by INTEGER,
			granted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(member_id, project_id)
		);

		CREATE TABLE org_invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			role_name TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			invited_by INTEGER,
			expires_at TIMESTAMP NOT NULL,
			accepted_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(organization_id, email)
		);

		CREATE TABLE org_limits (
			organization_id INTEGER PRIMARY KEY,
			max_members INTEGER NOT NULL,
			max_custom_roles INTEGER NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)
	return db
}

// memoryAuditLogger collects the audit events the server emits.
type memoryAuditLogger struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (l *memoryAuditLogger) Log(ctx context.Context, event *audit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *memoryAuditLogger) Close() error { return nil }

func (l *memoryAuditLogger) snapshot() []*audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*audit.Event, len(l.events))
	copy(out, l.events)
	return out
}

// stubAuditStore serves canned values so route tests can exercise the audit
// endpoints without a Postgres-backed store.
type stubAuditStore struct{}

func (stubAuditStore) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	return []*audit.Event{}, nil
}

func (stubAuditStore) Get(ctx context.Context, id int64) (*audit.Event, error) {
	return nil, nil
}

func (stubAuditStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.Stats, error) {
	return &audit.Stats{}, nil
}

func (stubAuditStore) Export(ctx context.Context, filter audit.SearchFilter, format audit.ExportFormat) ([]byte, error) {
	return []byte("[]"), nil
}

func (stubAuditStore) Cleanup(ctx context.Context, policy audit.RetentionPolicy) (int64, error) {
	return 0, nil
}

type serverFixture struct {
	t       *testing.T
	db      *sql.DB
	roles   *authz.Store
	service *orgs.Service
	server  *Server
}

func newServerFixture(t *testing.T, tweaks ...func(*Options)) *serverFixture {
	t.Helper()
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	roles := authz.NewStore(db, authz.DefaultCatalog(), authz.UnknownPermissionReject)
	require.NoError(t, roles.SeedSystemRoles(context.Background()))

	service := orgs.NewService(orgs.NewStore(db), nil, roles)

	opts := Options{
		Logger:     observability.NewLogger(observability.ErrorLevel, io.Discard),
		Resolver:   auth.HeaderResolver{},
		Members:    service,
		RoleStore:  roles,
		OrgService: service,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}

	f := &serverFixture{
		t:       t,
		db:      db,
		roles:   roles,
		service: service,
		server:  NewServer(opts),
	}
	f.seedOrg(1, "Hillside Builders")
	return f
}

func (f *serverFixture) seedOrg(id int64, name string) {
	f.t.Helper()
	_, err := f.db.Exec(`INSERT INTO organizations (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(f.t, err)
}

func (f *serverFixture) seedUser(id int64) {
	f.t.Helper()
	_, err := f.db.Exec(`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`,
		id, "user"+strconv.FormatInt(id, 10)+"@example.com", "User "+strconv.FormatInt(id, 10))
	require.NoError(f.t, err)
}

// addMember seeds a user and enrolls them in org 1 under the named role.
func (f *serverFixture) addMember(userID int64, roleName string) *orgs.Member {
	f.t.Helper()
	ctx := context.Background()
	role, err := f.roles.GetRoleByName(ctx, 1, roleName)
	require.NoError(f.t, err)

	f.seedUser(userID)
	member, err := f.service.AddMember(ctx, orgs.NewMember{
		OrganizationID: 1,
		UserID:         userID,
		RoleID:         role.ID,
	})
	require.NoError(f.t, err)
	return member
}

func (f *serverFixture) do(method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, target, reader)
	for name, value := range headers {
		r.Header.Set(name, value)
	}

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func identityHeaders(orgID, userID int64, role string) map[string]string {
	return map[string]string{
		"x-organization-id": strconv.FormatInt(orgID, 10),
		"x-user-id":         strconv.FormatInt(userID, 10),
		"x-user-role":       role,
	}
}

func permissionID(t *testing.T, resource authz.Resource, action authz.Action) int64 {
	t.Helper()
	p, ok := authz.DefaultCatalog().LookupByKey(resource, action)
	require.True(t, ok)
	return p.ID
}

func decodeSuccess(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	return resp
}

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp
}

func decodeInto(t *testing.T, resp httputil.Response, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestServer_RejectsMissingIdentity(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/api/v1/roles", nil, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeErrorEnvelope(t, rec)
	assert.Equal(t, httputil.CodeMissingOrgContext, resp.Error.Code)
}

func TestServer_RejectsUnknownRoleName(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/api/v1/roles", nil, identityHeaders(1, 1, "SUPERADMIN"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeMissingOrgContext, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_RoleLifecycle(t *testing.T) {
	f := newServerFixture(t)
	admin := identityHeaders(1, 1, authz.RoleAdmin)

	rec := f.do("POST", "/api/v1/roles", map[string]interface{}{
		"name":           "Site Engineer",
		"description":    "Stage updates on assigned projects",
		"permission_ids": []int64{permissionID(t, authz.ResourceProject, authz.ActionRead)},
		"scopes":         map[string]string{"project": "assigned"},
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created authz.Role
	decodeInto(t, decodeSuccess(t, rec), &created)
	assert.Equal(t, "Site Engineer", created.Name)
	assert.False(t, created.IsSystem)

	rec = f.do("GET", "/api/v1/roles/"+strconv.FormatInt(created.ID, 10), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("PUT", "/api/v1/roles/"+strconv.FormatInt(created.ID, 10), map[string]interface{}{
		"description": "Stage and expense updates on assigned projects",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("DELETE", "/api/v1/roles/"+strconv.FormatInt(created.ID, 10), nil, admin)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_PermissionGuardDenies(t *testing.T) {
	f := newServerFixture(t)

	// ACCOUNTANT has no member permissions at all
	rec := f.do("GET", "/api/v1/members", nil, identityHeaders(1, 4, authz.RoleAccountant))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeActionNotAllowed, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_MemberLifecycleAsManager(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(7)
	client, err := f.roles.GetRoleByName(context.Background(), 1, authz.RoleClient)
	require.NoError(t, err)

	manager := identityHeaders(1, 3, authz.RoleManager)

	rec := f.do("POST", "/api/v1/members", map[string]interface{}{
		"user_id": 7,
		"role_id": client.ID,
	}, manager)
	require.Equal(t, http.StatusCreated, rec.Code)
	var member orgs.Member
	decodeInto(t, decodeSuccess(t, rec), &member)
	assert.Equal(t, int64(7), member.UserID)

	rec = f.do("GET", "/api/v1/members", nil, manager)
	require.Equal(t, http.StatusOK, rec.Code)

	// MANAGER cannot remove members; that needs member:delete
	rec = f.do("DELETE", "/api/v1/members/"+strconv.FormatInt(member.ID, 10), nil, manager)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeActionNotAllowed, decodeErrorEnvelope(t, rec).Error.Code)

	rec = f.do("DELETE", "/api/v1/members/"+strconv.FormatInt(member.ID, 10), nil, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_SupervisorNotAMemberIsRejected(t *testing.T) {
	f := newServerFixture(t)

	// SUPERVISOR carries assigned scopes, so identity resolution demands a
	// membership row. User 9 has none.
	rec := f.do("GET", "/api/v1/projects/7/members", nil, identityHeaders(1, 9, authz.RoleSupervisor))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeMissingOrgContext, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_ProjectRosterAccess(t *testing.T) {
	f := newServerFixture(t)
	member := f.addMember(2, authz.RoleSupervisor)
	_, err := f.service.GrantProjectAccess(context.Background(), 1, member.ID, 7, nil)
	require.NoError(t, err)

	supervisor := identityHeaders(1, 2, authz.RoleSupervisor)

	rec := f.do("GET", "/api/v1/projects/7/members", nil, supervisor)
	require.Equal(t, http.StatusOK, rec.Code)
	var roster struct {
		Members []*orgs.Member `json:"members"`
	}
	decodeInto(t, decodeSuccess(t, rec), &roster)
	require.Len(t, roster.Members, 1)
	assert.Equal(t, member.ID, roster.Members[0].ID)

	rec = f.do("GET", "/api/v1/projects/9/members", nil, supervisor)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeNoProjectAccess, decodeErrorEnvelope(t, rec).Error.Code)

	// All-scope roles reach any roster
	rec = f.do("GET", "/api/v1/projects/9/members", nil, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PlanLimitRoutesGatedByRole(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/api/v1/limits", nil, identityHeaders(1, 4, authz.RoleAccountant))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeForbidden, decodeErrorEnvelope(t, rec).Error.Code)

	rec = f.do("GET", "/api/v1/limits", nil, identityHeaders(1, 3, authz.RoleManager))
	require.Equal(t, http.StatusOK, rec.Code)

	body := map[string]int64{"max_members": 25, "max_custom_roles": 5}

	rec = f.do("PUT", "/api/v1/limits", body, identityHeaders(1, 3, authz.RoleManager))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeForbidden, decodeErrorEnvelope(t, rec).Error.Code)

	rec = f.do("PUT", "/api/v1/limits", body, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	var limits orgs.Limits
	decodeInto(t, decodeSuccess(t, rec), &limits)
	assert.Equal(t, int64(25), limits.MaxMembers)
}

func TestServer_CustomRoleCeilingEnforced(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, err := f.service.SetLimits(ctx, 1, 0, 1)
	require.NoError(t, err)
	_, err = f.roles.CreateRole(ctx, authz.NewRole{
		OrganizationID: 1,
		Name:           "Existing",
		PermissionIDs:  []int64{permissionID(t, authz.ResourceProject, authz.ActionRead)},
		Scopes:         authz.ScopeTable{authz.ResourceProject: authz.ScopeAssigned},
	})
	require.NoError(t, err)

	rec := f.do("POST", "/api/v1/roles", map[string]interface{}{
		"name":           "One Too Many",
		"permission_ids": []int64{permissionID(t, authz.ResourceProject, authz.ActionRead)},
		"scopes":         map[string]string{"project": "assigned"},
	}, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeLimitExceeded, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_InvitationGatedByMemberCeiling(t *testing.T) {
	f := newServerFixture(t)
	f.addMember(2, authz.RoleSupervisor)
	_, err := f.service.SetLimits(context.Background(), 1, 1, 0)
	require.NoError(t, err)

	rec := f.do("POST", "/api/v1/invitations", map[string]interface{}{
		"email":     "new@example.com",
		"role_name": authz.RoleClient,
	}, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeLimitExceeded, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_AcceptInvitationNeedsNoMembership(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("POST", "/api/v1/invitations", map[string]interface{}{
		"email":     "user5@example.com",
		"role_name": authz.RoleClient,
	}, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code)
	var inv orgs.Invitation
	decodeInto(t, decodeSuccess(t, rec), &inv)
	require.NotEmpty(t, inv.Token)

	// User 5 is no member yet and sends no role; the bootstrap chain still
	// lets the accept through.
	f.seedUser(5)
	rec = f.do("POST", "/api/v1/invitations/accept", map[string]string{"token": inv.Token},
		identityHeaders(1, 5, ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	var member orgs.Member
	decodeInto(t, decodeSuccess(t, rec), &member)
	assert.Equal(t, int64(5), member.UserID)
}

func TestServer_AcceptInvitationUnknownToken(t *testing.T) {
	f := newServerFixture(t)
	f.seedUser(5)

	rec := f.do("POST", "/api/v1/invitations/accept", map[string]string{"token": "not-a-real-token"},
		identityHeaders(1, 5, ""))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.CodeNotFound, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_AuditRoutesRequireStore(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/api/v1/audit/events", nil, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AuditRoutesAdminOnly(t *testing.T) {
	f := newServerFixture(t, func(opts *Options) {
		opts.AuditStore = stubAuditStore{}
	})

	rec := f.do("GET", "/api/v1/audit/events", nil, identityHeaders(1, 3, authz.RoleManager))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeForbidden, decodeErrorEnvelope(t, rec).Error.Code)

	rec = f.do("GET", "/api/v1/audit/events", nil, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_AuditTrailRecordsMutations(t *testing.T) {
	logger := &memoryAuditLogger{}
	f := newServerFixture(t, func(opts *Options) {
		opts.Auditor = logger
	})

	rec := f.do("POST", "/api/v1/roles", map[string]interface{}{
		"name":           "Site Engineer",
		"permission_ids": []int64{permissionID(t, authz.ResourceProject, authz.ActionRead)},
		"scopes":         map[string]string{"project": "assigned"},
	}, identityHeaders(1, 1, authz.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code)

	events := logger.snapshot()
	require.NotEmpty(t, events)

	var types []audit.EventType
	for _, event := range events {
		types = append(types, event.EventType)
	}
	assert.Contains(t, types, audit.EventTypeRoleCreate)
}

func TestServer_RateLimitRunsAfterIdentity(t *testing.T) {
	f := newServerFixture(t, func(opts *Options) {
		opts.RateLimit = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteTooManyRequests(w, "rate limit exceeded")
			})
		}
	})

	// The limiter sits inside identity so it can key buckets off the
	// resolved member. A resolved caller hits the 429.
	rec := f.do("GET", "/api/v1/roles", nil, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, httputil.CodeRateLimited, decodeErrorEnvelope(t, rec).Error.Code)

	// An unidentified caller is rejected by identity before the limiter
	// ever sees the request.
	rec = f.do("GET", "/api/v1/roles", nil, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeMissingOrgContext, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_UnknownRouteReturnsEnvelope(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do("GET", "/nope", nil, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.CodeNotFound, decodeErrorEnvelope(t, rec).Error.Code)
}

func TestServer_TracingHandlerStillServes(t *testing.T) {
	f := newServerFixture(t, func(opts *Options) {
		opts.Tracing = true
	})

	rec := f.do("GET", "/api/v1/permissions", nil, identityHeaders(1, 1, authz.RoleAdmin))

	require.Equal(t, http.StatusOK, rec.Code)
	decodeSuccess(t, rec)
}

func TestHealthRouter(t *testing.T) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry)
	checker := observability.NewHealthChecker(db, nil)
	router := HealthRouter(checker, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sitedesk_organizations_total"))
}
