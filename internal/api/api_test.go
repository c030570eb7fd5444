package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/export"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/pipeline"
	"pixel-blueprint/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 128; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (x >= 20 && x < 60 && y >= 20 && y < 52) || (x >= 76 && x < 116 && y >= 20 && y < 84) {
				c = color.RGBA{40, 80, 160, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// mirror renders every blueprint as the given image.
type mirror struct{ img *image.RGBA }

func (m mirror) Rasterize(context.Context, export.Blueprint) (*image.RGBA, error) {
	return m.img, nil
}

func newServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	src, err := imgsrc.Decode(data, imgsrc.DefaultLimits())
	require.NoError(t, err)
	p := pipeline.New(pipeline.DefaultOptions(), mirror{img: src.Image}, nil)

	ts := httptest.NewServer(New(pipeline.NewService(p, st, nil), 64<<10, nil))
	t.Cleanup(func() {
		ts.Close()
		st.Close()
		http.DefaultClient.CloseIdleConnections()
	})
	return ts
}

func do(t *testing.T, method, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func create(t *testing.T, ts *httptest.Server, data []byte) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/blueprints?name=login", "image/png", data)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var cr createResponse
	require.NoError(t, json.Unmarshal(body, &cr))
	assert.Equal(t, 2, cr.BoxesLen)
	assert.Equal(t, "/v1/blueprints/"+cr.ID, resp.Header.Get("Location"))
	return cr.ID
}

func TestHealth(t *testing.T) {
	ts := newServer(t, samplePNG(t))
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Contains(t, string(body), `"version"`)
}

func TestExportGateFlow(t *testing.T) {
	data := samplePNG(t)
	ts := newServer(t, data)
	id := create(t, ts, data)
	base := ts.URL + "/v1/blueprints/" + id

	resp, body := do(t, http.MethodGet, base+"/export?format=html", "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var denied struct {
		Decision struct {
			OK      bool     `json:"ok"`
			Reasons []string `json:"reasons"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(body, &denied))
	assert.False(t, denied.Decision.OK)
	assert.Equal(t, []string{"BLUEPRINT_NOT_LOCKED", "VERIFY_TRUTH_FAILED"}, denied.Decision.Reasons)

	resp, body = do(t, http.MethodPost, base+"/verify", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"pass":true`)

	resp, _ = do(t, http.MethodPost, base+"/lock", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodGet, base+"/gate", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"decision":{"ok":true,"reasons":[]}`)

	resp, body = do(t, http.MethodGet, base+"/export?format=svg", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.True(t, strings.Contains(string(body), "<svg"))

	resp, body = do(t, http.MethodGet, base+"/export?format=json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exported export.Document
	require.NoError(t, json.Unmarshal(body, &exported))
	assert.Equal(t, 128, exported.Width)
	require.NotNil(t, exported.Root)
	assert.Len(t, exported.Root.Children, 2)

	resp, _ = do(t, http.MethodGet, base+"/export?format=pdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, base+"/diffs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var diffs []blueprint.DiffEntry
	require.NoError(t, json.Unmarshal(body, &diffs))
	assert.Len(t, diffs, 1)
}

func TestDocumentEndpoints(t *testing.T) {
	data := samplePNG(t)
	ts := newServer(t, data)
	id := create(t, ts, data)
	base := ts.URL + "/v1/blueprints/" + id

	resp, body := do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc blueprint.Document
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "login", doc.Name)

	resp, body = do(t, http.MethodGet, base+"/trace?marks=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr pipeline.TraceReport
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.True(t, tr.Matches)
	assert.Len(t, tr.Marks, 192)

	resp, body = do(t, http.MethodGet, base+"/overlay.png", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	review := `{"nodeId":"box-001","action":"reject","reviewer":"ana"}`
	resp, body = do(t, http.MethodPost, base+"/review", "application/json", []byte(review))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodPost, base+"/review", "application/json", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "INVALID_INPUT")

	hints := `{"nodes":[{"id":"box-002","text":"Panel"}]}`
	resp, body = do(t, http.MethodPost, base+"/semantic", "application/json", []byte(hints))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"Texts":1`)

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/blueprints", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), id)

	resp, _ = do(t, http.MethodDelete, base, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "NOT_FOUND")
}

func TestCreateMultipart(t *testing.T) {
	data := samplePNG(t)
	ts := newServer(t, data)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "login.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("name", "form"))
	require.NoError(t, mw.WriteField("hints", `{"nodes":[{"id":"box-001","text":"Sign in"}]}`))
	require.NoError(t, mw.Close())

	resp, out := do(t, http.MethodPost, ts.URL+"/v1/blueprints", mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(out))
	var cr createResponse
	require.NoError(t, json.Unmarshal(out, &cr))
	assert.Equal(t, 1, cr.Semantic.Texts)
}

func TestCreateErrors(t *testing.T) {
	ts := newServer(t, samplePNG(t))

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/blueprints", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Contains(t, string(body), "UNSUPPORTED_FORMAT")

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/blueprints", "image/png", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/blueprints", "image/png", make([]byte, 128<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, string(body), "FILE_TOO_LARGE")
}
