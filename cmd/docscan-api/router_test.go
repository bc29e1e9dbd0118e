package main

import (
	"bytes"
	"context"
	"encoding/base64"
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
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/docscan/cmd/docscan-api/handlers"
	"github.com/spherical-ai/docscan/cmd/docscan-api/middleware"
	"github.com/spherical-ai/docscan/internal/app"
	"github.com/spherical-ai/docscan/internal/cache"
	"github.com/spherical-ai/docscan/internal/config"
	"github.com/spherical-ai/docscan/internal/extract"
	"github.com/spherical-ai/docscan/internal/filestore"
	"github.com/spherical-ai/docscan/internal/imaging"
	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/pdf"
	"github.com/spherical-ai/docscan/internal/storage"
)

const testMaxUpload = 4096

type stubExtractor struct{ text string }

func (s stubExtractor) Extract(context.Context, string, string) (*extract.Result, error) {
	return &extract.Result{Text: s.text, Method: extract.MethodOCR, PageCount: 1}, nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	svc     *app.App
	user    uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(ctx, db, "sqlite"))

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	mem := cache.NewMemoryClient(100)
	t.Cleanup(func() { mem.Close() })
	docCache := cache.NewDocumentCache(mem, time.Minute, nil)

	documents := storage.NewDocumentRepository(db)
	folders := storage.NewFolderRepository(db)

	pcfg := ingest.DefaultPipelineConfig()
	pcfg.MaxUploadBytes = testMaxUpload
	pipeline := ingest.NewPipeline(ingest.Dependencies{
		Documents:   documents,
		Folders:     folders,
		Files:       files,
		Thumbnailer: imaging.NewThumbnailer(32, 32, 85),
		PDFs:        pdf.NewFitzOpener(),
		Extractor:   stubExtractor{text: "Scanned receipt"},
		Notifier:    ingest.Notifiers{docCache},
	}, pcfg)
	t.Cleanup(func() { pipeline.Close(context.Background()) })

	svc := &app.App{
		Config:        config.DefaultConfig(),
		Logger:        observability.NopLogger(),
		DB:            db,
		Documents:     documents,
		Folders:       folders,
		Files:         files,
		CacheClient:   mem,
		DocumentCache: docCache,
		Pipeline:      pipeline,
	}
	handler := NewRouter(observability.NopLogger(), svc, &AppConfig{
		RequestTimeout: 10 * time.Second,
		MaxUploadBytes: testMaxUpload,
		AllowedOrigins: []string{"*"},
	})
	return &testServer{t: t, handler: handler, svc: svc, user: uuid.New()}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	s.t.Helper()
	if req.Header.Get(middleware.UserHeader) == "" {
		req.Header.Set(middleware.UserHeader, s.user.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, path string, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) upload(filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(s.t, err)
		_, err = fw.Write(data)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func (s *testServer) uploadDocument(fields map[string]string) handlers.DocumentDTO {
	s.t.Helper()
	rec := s.upload("receipt.png", pngBytes(s.t, 16, 16), fields)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[handlers.DocumentDTO](s.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"docscan"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserHeaderRequired(t *testing.T) {
	s := newTestServer(t)

	for _, header := range []string{"", "not-a-uuid"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		if header != "" {
			req.Header.Set(middleware.UserHeader, header)
		}
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents", nil)
	req.Header.Set("Origin", "https://scanner.example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://scanner.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.UserHeader)
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)

	doc := s.uploadDocument(map[string]string{"title": "Lunch", "description": "team"})
	assert.Equal(t, "Lunch", doc.Title)
	assert.Equal(t, "team", doc.Description)
	assert.Equal(t, "completed", doc.OCRStatus)
	require.NotNil(t, doc.OCRText)
	assert.Equal(t, "Scanned receipt", *doc.OCRText)
	assert.Equal(t, doc.OCRText, doc.Content)
	assert.True(t, doc.HasThumbnail)
	assert.Equal(t, []string{}, doc.Tags)

	rec := s.json(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/file", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt.png")
	assert.Equal(t, pngBytes(t, 16, 16), rec.Body.Bytes())

	rec = s.json(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/thumbnail", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t)
	oversized := append(pngBytes(t, 16, 16), make([]byte, 2*testMaxUpload)...)

	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		status   int
	}{
		{"no file", "", nil, nil, http.StatusBadRequest},
		{"disallowed type", "notes.txt", []byte("hello"), nil, http.StatusBadRequest},
		{"spoofed extension", "notes.png", []byte("definitely not an image"), nil, http.StatusBadRequest},
		{"too large", "big.png", oversized, nil, http.StatusRequestEntityTooLarge},
		{"bad folder", "a.png", pngBytes(t, 4, 4), map[string]string{"folder_id": "42"}, http.StatusBadRequest},
		{"unknown folder", "a.png", pngBytes(t, 4, 4), map[string]string{"folder_id": uuid.NewString()}, http.StatusNotFound},
		{"bad auto_ocr", "a.png", pngBytes(t, 4, 4), map[string]string{"auto_ocr": "maybe"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(tt.filename, tt.data, tt.fields)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := s.json(http.MethodGet, "/api/v1/stats", "")
	stats := decode[handlers.StatsDTO](t, rec)
	assert.Zero(t, stats.TotalDocuments, "rejected uploads leave no rows")
}

func TestUpload_AutoOCRDisabled(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(map[string]string{"auto_ocr": "false"})
	assert.Equal(t, "pending", doc.OCRStatus)
	assert.Nil(t, doc.OCRText)
}

func TestCapture(t *testing.T) {
	s := newTestServer(t)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 40, 30))

	rec := s.json(http.MethodPost, "/api/v1/documents/capture", `{"image":"`+payload+`","title":"Whiteboard"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[handlers.DocumentDTO](t, rec)
	assert.Equal(t, "Whiteboard", doc.Title)
	assert.Equal(t, "jpg", doc.FileExtension)
	assert.Equal(t, "completed", doc.OCRStatus)

	rec = s.json(http.MethodPost, "/api/v1/documents/capture", `{"title":"no image"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodPost, "/api/v1/documents/capture", `{"image":"bm90IGFuIGltYWdl"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_BumpsLastViewedButStatusDoesNot(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(nil)
	path := "/api/v1/documents/" + doc.ID.String()

	rec := s.json(http.MethodGet, path+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[handlers.StatusDTO](t, rec)
	assert.Equal(t, "completed", status.OCRStatus)

	stored, err := s.svc.Documents.GetByID(context.Background(), s.user, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastViewed)

	rec = s.json(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handlers.DocumentDTO](t, rec)
	require.NotNil(t, got.LastViewed)
	assert.Equal(t, "Scanned receipt", *got.Content)

	stored, err = s.svc.Documents.GetByID(context.Background(), s.user, doc.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastViewed)
	assert.Equal(t, doc.UpdatedAt.Unix(), stored.UpdatedAt.Unix(), "viewing is not an edit")
}

func TestGet_OtherUser(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String(), nil)
	req.Header.Set(middleware.UserHeader, uuid.NewString())
	assert.Equal(t, http.StatusNotFound, s.do(req).Code)

	rec := s.json(http.MethodGet, "/api/v1/documents/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchAndContent(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(nil)
	path := "/api/v1/documents/" + doc.ID.String()

	// Warm the cache so the edits must invalidate it.
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, path, "").Code)

	rec := s.json(http.MethodPatch, path, `{"title":"Renamed","tags":["tax","2024","tax"],"is_favorite":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decode[handlers.DocumentDTO](t, rec)
	assert.Equal(t, "Renamed", patched.Title)
	assert.Equal(t, []string{"tax", "2024"}, patched.Tags)
	assert.True(t, patched.IsFavorite)

	rec = s.json(http.MethodPatch, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.json(http.MethodPatch, path, `{"is_archived":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodPut, path+"/content", `{"content":"Corrected text"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[handlers.DocumentDTO](t, s.json(http.MethodGet, path, ""))
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "Corrected text", *got.Content)
	assert.Equal(t, "Scanned receipt", *got.OCRText, "raw text is preserved")
}

func TestList(t *testing.T) {
	s := newTestServer(t)
	first := s.uploadDocument(map[string]string{"title": "Alpha"})
	s.uploadDocument(map[string]string{"title": "Beta"})

	rec := s.json(http.MethodPatch, "/api/v1/documents/"+first.ID.String(), `{"is_archived":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[handlers.DocumentListDTO](t, s.json(http.MethodGet, "/api/v1/documents", ""))
	assert.Equal(t, 1, list.Total, "archived documents are hidden by default")
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "Beta", list.Documents[0].Title)
	assert.Nil(t, list.Documents[0].Content, "listings omit text")

	list = decode[handlers.DocumentListDTO](t, s.json(http.MethodGet, "/api/v1/documents?archived=all&sort=title&order=asc", ""))
	require.Len(t, list.Documents, 2)
	assert.Equal(t, "Alpha", list.Documents[0].Title)

	list = decode[handlers.DocumentListDTO](t, s.json(http.MethodGet, "/api/v1/documents?archived=true", ""))
	assert.Equal(t, 1, list.Total)

	rec = s.json(http.MethodGet, "/api/v1/documents?sort=owner", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.json(http.MethodGet, "/api/v1/documents?status=done", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFoldersAndMove(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(nil)

	rec := s.json(http.MethodPost, "/api/v1/folders", `{"name":"Receipts","color":"#112233"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	folder := decode[storage.Folder](t, rec)
	assert.Equal(t, "#112233", folder.Color)

	rec = s.json(http.MethodPost, "/api/v1/folders", `{"name":"Bad","color":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	docPath := "/api/v1/documents/" + doc.ID.String()
	rec = s.json(http.MethodPost, docPath+"/move", `{"folder_id":"`+folder.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[handlers.DocumentDTO](t, rec)
	require.NotNil(t, moved.FolderID)
	assert.Equal(t, folder.ID, *moved.FolderID)

	rec = s.json(http.MethodPost, docPath+"/move", `{"folder_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	list := decode[handlers.DocumentListDTO](t, s.json(http.MethodGet, "/api/v1/documents?folder_id="+folder.ID.String(), ""))
	assert.Equal(t, 1, list.Total)
	list = decode[handlers.DocumentListDTO](t, s.json(http.MethodGet, "/api/v1/documents?folder_id=none", ""))
	assert.Zero(t, list.Total)

	var folders struct {
		Folders []storage.Folder `json:"folders"`
	}
	require.NoError(t, json.Unmarshal(s.json(http.MethodGet, "/api/v1/folders", "").Body.Bytes(), &folders))
	require.Len(t, folders.Folders, 1)
	assert.Equal(t, 1, folders.Folders[0].DocumentCount)

	rec = s.json(http.MethodPatch, "/api/v1/folders/"+folder.ID.String(), `{"name":"Old receipts"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Old receipts", decode[storage.Folder](t, rec).Name)

	// Cache the document view while it still points at the folder.
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, docPath, "").Code)

	rec = s.json(http.MethodDelete, "/api/v1/folders/"+folder.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[handlers.FolderDeleteDTO](t, rec).Detached)

	got := decode[handlers.DocumentDTO](t, s.json(http.MethodGet, docPath, ""))
	assert.Nil(t, got.FolderID, "documents survive folder deletion unfiled")

	rec = s.json(http.MethodDelete, "/api/v1/folders/"+folder.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRerunAndDelete(t *testing.T) {
	s := newTestServer(t)
	doc := s.uploadDocument(map[string]string{"auto_ocr": "false"})
	path := "/api/v1/documents/" + doc.ID.String()

	rec := s.json(http.MethodPost, path+"/rerun", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[handlers.DocumentDTO](t, rec).OCRStatus)

	rec = s.json(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.json(http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, s.json(http.MethodGet, path+"/file", "").Code)
	assert.Equal(t, http.StatusNotFound, s.json(http.MethodPost, path+"/rerun", "").Code)
	assert.Equal(t, http.StatusNotFound, s.json(http.MethodDelete, path, "").Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	s.uploadDocument(nil)
	s.uploadDocument(map[string]string{"auto_ocr": "false"})

	rec := s.json(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[handlers.StatsDTO](t, rec)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Positive(t, stats.TotalSize)
	assert.Equal(t, map[string]int{"pending": 1, "processing": 0, "completed": 1, "failed": 0}, stats.ByStatus)
}
