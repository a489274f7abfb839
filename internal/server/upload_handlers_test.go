package server

import (
	"bytes"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"projecthub/internal/models"
	"projecthub/internal/service"
	"projecthub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartImage(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, token, field string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartImage(t, field, "shot.png", content)
	return ts.doWithHeaders(t, http.MethodPost, "/api/uploads", token, body,
		map[string]string{"Content-Type": contentType})
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)
	u := ts.user(t, "Uploader", models.RoleStudent)
	token := ts.token(t, u)
	png := testutil.TinyPNG(t, 320, 200)

	resp := ts.upload(t, "", "image", png)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.upload(t, token, "image", png)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[service.UploadResult](t, resp)
	assert.Len(t, res.Hash, 64)
	assert.True(t, strings.HasPrefix(res.URL, "/uploads/"+res.Hash+"/"))
	assert.Equal(t, 320, res.Width)
	assert.Contains(t, res.Variants, "256_webp")
	assert.False(t, res.Deduplicated)

	// Same content from the same user is stored once.
	resp = ts.upload(t, token, "image", png)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[service.UploadResult](t, resp)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, res.URL, again.URL)

	resp = ts.do(t, http.MethodGet, res.URL, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)

	resp = ts.do(t, http.MethodGet, res.Variants["256_webp"], "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
}

func TestUploadedImageMakesProjectGenuine(t *testing.T) {
	ts := newTestServer(t)
	u := ts.user(t, "Real Builder", models.RoleStudent)
	token := ts.token(t, u)

	resp := ts.upload(t, token, "image", testutil.TinyPNG(t, 64, 64))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	img := decode[service.UploadResult](t, resp)

	resp = ts.do(t, http.MethodPost, "/api/projects", token, map[string]any{
		"title":     "Uploaded Screenshot",
		"images":    []string{img.URL},
		"githubUrl": "https://github.com/example/uploaded",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, decode[service.ProjectView](t, resp).IsSample)
}

func TestUploadImageRejects(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, ts.user(t, "Careless Uploader", models.RoleStudent))

	tests := []struct {
		name    string
		field   string
		content []byte
	}{
		{"Wrong Field", "file", testutil.TinyPNG(t, 8, 8)},
		{"Not An Image", "image", []byte("plain text pretending to be a picture")},
		{"Too Large", "image", bytes.Repeat([]byte{0x89}, 1024*1024+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.upload(t, token, tt.field, tt.content)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			e := errorBody(t, resp)
			assert.Equal(t, models.CodeValidation, e.Code)
			assert.Equal(t, "image", e.Field)
		})
	}
}

func TestServeUploadNotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/uploads/" + strings.Repeat("a", 64) + "/master.jpg",
		"/uploads/..%2F..%2Fetc/passwd",
	} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestUploadsDisabled(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.uploadService = nil
	token := ts.token(t, ts.user(t, "No Storage", models.RoleStudent))

	resp := ts.upload(t, token, "image", testutil.TinyPNG(t, 8, 8))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
