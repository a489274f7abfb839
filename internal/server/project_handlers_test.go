package server

import (
	"net/http"
	"strings"
	"testing"

	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedIDs(t *testing.T, resp *http.Response) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []string
	for _, p := range decode[[]service.ProjectView](t, resp) {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestGetProjects_HidesSamples(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Feed Author", models.RoleStudent)
	admin := ts.user(t, "Feed Admin", models.RoleAdmin)
	genuine := ts.project(t, author, "real project")
	sample := ts.sample(t, author, "stock sample")

	ids := feedIDs(t, ts.do(t, http.MethodGet, "/api/projects", "", nil))
	assert.Equal(t, []string{genuine.ID}, ids)

	// include_samples is ignored for non-admins.
	ids = feedIDs(t, ts.do(t, http.MethodGet, "/api/projects?include_samples=true", ts.token(t, author), nil))
	assert.Equal(t, []string{genuine.ID}, ids)

	ids = feedIDs(t, ts.do(t, http.MethodGet, "/api/projects?include_samples=true", ts.token(t, admin), nil))
	assert.ElementsMatch(t, []string{genuine.ID, sample.ID}, ids)
}

func TestGetProjects_SampleFeatureFlag(t *testing.T) {
	ts := newTestServer(t, withFeatureFlags("show_sample_projects=on"))
	author := ts.user(t, "Flag Author", models.RoleStudent)
	ts.project(t, author, "real one")
	ts.sample(t, author, "sample one")

	ids := feedIDs(t, ts.do(t, http.MethodGet, "/api/projects", ts.token(t, author), nil))
	assert.Len(t, ids, 2)

	// Anonymous viewers never match a flag.
	ids = feedIDs(t, ts.do(t, http.MethodGet, "/api/projects", "", nil))
	assert.Len(t, ids, 1)
}

func TestGetProjects_PaginationSkipsSamples(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Paging Author", models.RoleStudent)
	for i := 0; i < 3; i++ {
		ts.project(t, author, "real "+string(rune('a'+i)))
		ts.sample(t, author, "sample "+string(rune('a'+i)))
	}

	first := feedIDs(t, ts.do(t, http.MethodGet, "/api/projects?limit=2", "", nil))
	second := feedIDs(t, ts.do(t, http.MethodGet, "/api/projects?limit=2&offset=2", "", nil))
	assert.Len(t, first, 2)
	assert.Len(t, second, 1)
	assert.NotContains(t, first, second[0])
}

func TestGetProject(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Detail Author", models.RoleStudent)
	p := ts.project(t, author, "detail view")

	resp := ts.do(t, http.MethodGet, "/api/projects/"+strings.ToUpper(p.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[service.ProjectView](t, resp)
	assert.Equal(t, p.ID, view.ID)
	assert.Equal(t, author.ID, view.Author.ID)
	assert.True(t, view.Author.Resolved)
	assert.True(t, view.InteractionsEnabled)

	for _, bad := range []string{"1", "not-an-id", models.NewID()} {
		resp := ts.do(t, http.MethodGet, "/api/projects/"+bad, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, bad)
		assert.Equal(t, models.CodeNotFound, errorBody(t, resp).Code)
	}
}

func TestGetProjectAuthor(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Ada Lovelace", models.RoleStudent)
	p := ts.project(t, author, "author lookup")

	resp := ts.do(t, http.MethodGet, "/api/projects/"+p.ID+"/author", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[service.AuthorView](t, resp)
	assert.Equal(t, "Ada Lovelace", view.Name)
	assert.Equal(t, "AL", view.Initials)
}

func TestCreateProject(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Creator", models.RoleStudent)
	token := ts.token(t, author)

	resp := ts.do(t, http.MethodPost, "/api/projects", "", map[string]any{"title": "anon"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/projects", token, map[string]any{
		"title":     "  Campus Map  ",
		"tags":      []string{"Maps", "maps", "go"},
		"images":    []string{"/uploads/" + strings.Repeat("c", 64) + "/master.jpg"},
		"githubUrl": "https://github.com/example/campus-map",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[service.ProjectView](t, resp)
	assert.True(t, models.IsNativeID(view.ID))
	assert.Equal(t, "Campus Map", view.Title)
	assert.Equal(t, author.ID, view.Author.ID)
	assert.False(t, view.IsSample)
	assert.Zero(t, view.LikeCount)

	resp = ts.do(t, http.MethodPost, "/api/projects", token, map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := errorBody(t, resp)
	assert.Equal(t, models.CodeValidation, e.Code)
	assert.Equal(t, "title", e.Field)

	resp = ts.do(t, http.MethodPost, "/api/projects", token, map[string]any{
		"title":     "Bad Link",
		"githubUrl": "javascript:alert(1)",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "githubUrl", errorBody(t, resp).Field)
}

func TestUpdateAndDeleteProject(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Owner", models.RoleStudent)
	stranger := ts.user(t, "Stranger", models.RoleStudent)
	admin := ts.user(t, "Moderator", models.RoleAdmin)
	p := ts.project(t, author, "editable")
	path := "/api/projects/" + p.ID

	resp := ts.do(t, http.MethodPut, path, ts.token(t, stranger), map[string]any{"title": "hijacked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeForbidden, errorBody(t, resp).Code)

	resp = ts.do(t, http.MethodPut, path, ts.token(t, author), map[string]any{
		"title":     "edited",
		"images":    p.Images,
		"githubUrl": p.GithubURL,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "edited", decode[service.ProjectView](t, resp).Title)

	resp = ts.do(t, http.MethodDelete, path, ts.token(t, stranger), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, path, ts.token(t, admin), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToggleLike(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Liked Author", models.RoleStudent)
	fan := ts.user(t, "Fan", models.RoleStudent)
	p := ts.project(t, author, "likeable")
	token := ts.token(t, fan)
	path := "/api/projects/" + p.ID + "/like"

	resp := ts.do(t, http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[service.LikeResult](t, resp)
	assert.True(t, res.Liked)
	assert.Equal(t, 1, res.LikeCount)

	// A second POST toggles back.
	resp = ts.do(t, http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[service.LikeResult](t, resp)
	assert.False(t, res.Liked)
	assert.Equal(t, 0, res.LikeCount)

	// DELETE is idempotent.
	resp = ts.do(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[service.LikeResult](t, resp).LikeCount)
}

func TestSampleProjectRejectsInteractions(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Sample Author", models.RoleStudent)
	fan := ts.user(t, "Sample Fan", models.RoleStudent)
	p := ts.sample(t, author, "look but do not touch")
	token := ts.token(t, fan)

	for _, path := range []string{"/like", "/share", "/comments"} {
		resp := ts.do(t, http.MethodPost, "/api/projects/"+p.ID+path, token, map[string]string{"text": "hi"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, models.CodeValidation, errorBody(t, resp).Code, path)
	}

	// The detail view is still readable and reports interactions as disabled.
	resp := ts.do(t, http.MethodGet, "/api/projects/"+p.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[service.ProjectView](t, resp)
	assert.True(t, view.IsSample)
	assert.False(t, view.InteractionsEnabled)
}

func TestShareProject_IncrementPolicy(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Shared Author", models.RoleStudent)
	sharer := ts.user(t, "Sharer", models.RoleStudent)
	p := ts.project(t, author, "shareable")
	token := ts.token(t, sharer)
	path := "/api/projects/" + p.ID + "/share"

	share := func(key string) service.ShareResult {
		resp := ts.doWithHeaders(t, http.MethodPost, path, token, nil, map[string]string{"Idempotency-Key": key})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decode[service.ShareResult](t, resp)
	}

	assert.Equal(t, 1, share("click-1").ShareCount)
	// A retried click counts once.
	assert.Equal(t, 1, share("click-1").ShareCount)
	// Every new click counts.
	assert.Equal(t, 2, share("click-2").ShareCount)
	assert.Equal(t, 3, share("").ShareCount)

	resp := ts.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeValidation, errorBody(t, resp).Code)
}

func TestShareProject_TogglePolicy(t *testing.T) {
	ts := newTestServer(t, withShareToggle())
	author := ts.user(t, "Toggle Author", models.RoleStudent)
	sharer := ts.user(t, "Toggle Sharer", models.RoleStudent)
	p := ts.project(t, author, "toggle share")
	token := ts.token(t, sharer)
	path := "/api/projects/" + p.ID + "/share"

	for range 2 {
		resp := ts.do(t, http.MethodPost, path, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, decode[service.ShareResult](t, resp).ShareCount)
	}

	resp := ts.do(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[service.ShareResult](t, resp)
	assert.False(t, res.Shared)
	assert.Equal(t, 0, res.ShareCount)
}

func TestBlockedUserCannotInteract(t *testing.T) {
	ts := newTestServer(t)
	author := ts.user(t, "Open Author", models.RoleStudent)
	troll := ts.user(t, "Troll", models.RoleStudent)
	p := ts.project(t, author, "guarded")
	blocked := true
	_, err := ts.srv.userService.ApplyStatus(t.Context(), troll.ID.String(), service.StatusInput{IsBlocked: &blocked})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/api/projects/"+p.ID+"/like", ts.token(t, troll), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
