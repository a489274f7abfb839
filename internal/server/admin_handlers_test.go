package server

import (
	"net/http"
	"testing"

	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteAndDemote(t *testing.T) {
	ts := newTestServer(t)
	super := ts.user(t, "Root Admin", models.RoleSuperAdmin)
	admin := ts.user(t, "Plain Admin", models.RoleAdmin)
	target := ts.user(t, "Rising Student", models.RoleStudent)
	base := "/api/admin/users/" + target.ID.String()

	tests := []struct {
		name           string
		actor          *models.User
		path           string
		body           any
		expectedStatus int
		expectedRole   models.Role
	}{
		{"Default Role Is Admin", admin, base + "/promote", nil, http.StatusOK, models.RoleAdmin},
		{"Admin Cannot Change Admin", admin, base + "/demote", nil, http.StatusForbidden, ""},
		{"Super Admin Demotes", super, base + "/demote", nil, http.StatusOK, models.RoleStudent},
		{"Promote To Mentor", admin, base + "/promote", map[string]string{"role": "mentor"}, http.StatusOK, models.RoleMentor},
		{"Admin Cannot Grant Super", admin, base + "/promote", map[string]string{"role": "super_admin"}, http.StatusForbidden, ""},
		{"Unknown Role", admin, base + "/promote", map[string]string{"role": "wizard"}, http.StatusBadRequest, ""},
		{"Student Role Is Not A Promotion", admin, base + "/promote", map[string]string{"role": "student"}, http.StatusBadRequest, ""},
		{"Self Change", admin, "/api/admin/users/" + admin.ID.String() + "/demote", nil, http.StatusBadRequest, ""},
		{"Unknown User", admin, "/api/admin/users/" + models.NewUserID().String() + "/promote", nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, tt.path, ts.token(t, tt.actor), tt.body)
			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedRole != "" {
				assert.Equal(t, tt.expectedRole, decode[models.User](t, resp).Type)
			}
		})
	}
}

func TestPromotedMentorJoinsDirectory(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.user(t, "Directory Admin", models.RoleAdmin)
	target := ts.user(t, "Future Mentor", models.RoleStudent)

	resp := ts.do(t, http.MethodPost, "/api/admin/users/"+target.ID.String()+"/promote", ts.token(t, admin),
		map[string]string{"role": "mentor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mentors := decode[[]models.PublicUser](t, ts.do(t, http.MethodGet, "/api/users/mentors", "", nil))
	ids := make([]models.UserID, 0, len(mentors))
	for _, m := range mentors {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, target.ID)
	assert.Contains(t, ids, admin.ID)
}

func TestSetUserStatus(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.user(t, "Status Admin", models.RoleAdmin)
	target := ts.user(t, "Noisy Student", models.RoleStudent)
	path := "/api/admin/users/" + target.ID.String() + "/status"
	token := ts.token(t, admin)

	resp := ts.do(t, http.MethodPatch, path, token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, path, token, map[string]any{"isBlocked": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decode[models.User](t, resp)
	assert.True(t, u.IsBlocked)
	assert.True(t, u.IsActive)

	// Blocked accounts lose write access.
	resp = ts.do(t, http.MethodPost, "/api/projects", ts.token(t, target), map[string]any{"title": "nope"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, "/api/admin/users/"+admin.ID.String()+"/status", token,
		map[string]any{"isActive": false})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAdmins(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.user(t, "Alpha Admin", models.RoleAdmin)
	super := ts.user(t, "Beta Super", models.RoleSuperAdmin)
	ts.user(t, "Gamma Student", models.RoleStudent)

	resp := ts.do(t, http.MethodGet, "/api/admin/admins", ts.token(t, admin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ids []models.UserID
	for _, u := range decode[[]models.User](t, resp) {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []models.UserID{admin.ID, super.ID}, ids)
}

func TestReconcileAndInspect(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.user(t, "Sweep Admin", models.RoleAdmin)
	author := ts.user(t, "Drifting Author", models.RoleStudent)
	p := ts.project(t, author, "drifted")
	ts.sample(t, author, "sample for inspect")
	require.NoError(t, ts.db.Model(&models.Project{}).Where("id = ?", p.ID).Update("like_count", 7).Error)
	token := ts.token(t, admin)
	want := []models.CounterRepair{{ID: p.ID, Kind: "likes", Stored: 7, Actual: 0}}

	resp := ts.do(t, http.MethodGet, "/api/admin/inspect", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inspect := decode[service.InspectReport](t, resp)
	assert.Equal(t, 2, inspect.TotalProjects)
	assert.Equal(t, 1, inspect.SampleProjects)
	if diff := cmp.Diff(want, inspect.Drift); diff != "" {
		t.Errorf("inspect drift mismatch (-want +got):\n%s", diff)
	}

	resp = ts.do(t, http.MethodPost, "/api/admin/reconcile?dry_run=true", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dry := decode[service.SweepReport](t, resp)
	assert.True(t, dry.DryRun)
	if diff := cmp.Diff(want, dry.Repairs); diff != "" {
		t.Errorf("dry run repairs mismatch (-want +got):\n%s", diff)
	}

	stored, err := ts.store.Projects.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.LikeCount)

	resp = ts.do(t, http.MethodPost, "/api/admin/reconcile?batch=1", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[service.SweepReport](t, resp).Repairs, 1)

	stored, err = ts.store.Projects.GetByID(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LikeCount)
}

func TestGetFeatureFlags(t *testing.T) {
	ts := newTestServer(t, withFeatureFlags("show_sample_projects=on, beta_feed=off"))
	admin := ts.user(t, "Flag Admin", models.RoleAdmin)

	resp := ts.do(t, http.MethodGet, "/api/admin/feature-flags", ts.token(t, admin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	type flagsResponse struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}
	body := decode[flagsResponse](t, resp)
	assert.Equal(t, "on", body.Raw["show_sample_projects"])
	assert.True(t, body.Evaluated["show_sample_projects"])
	assert.False(t, body.Evaluated["beta_feed"])
}
