package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campusops/admin/internal/config"
	"github.com/campusops/admin/internal/core"
	"github.com/campusops/admin/internal/logging"
)

// stubService records the last import and returns canned results.
type stubService struct {
	importData []byte
	importMode core.WriteMode
	importID   string
	importRes  *core.ImportResult
	importErr  error

	lastPattern   string
	hasPattern    bool
	patternPrefix string
	patternPad    int

	listQuery core.ListQuery
	updateID  string
	update    map[string]any
	err       error
}

func (s *stubService) Import(ctx context.Context, data []byte, mode core.WriteMode) (*core.ImportResult, error) {
	s.importData, s.importMode = data, mode
	s.importID = logging.ImportID(ctx)
	if s.importErr != nil {
		return nil, s.importErr
	}
	res := *s.importRes
	res.ImportID = s.importID
	return &res, nil
}

func (s *stubService) LimiterStatus() core.LimiterStatus {
	return core.LimiterStatus{Active: 1, Available: 4, MaxConcurrent: 5}
}

func (s *stubService) LastNumericID(context.Context) (int64, error) { return 41, s.err }
func (s *stubService) NextNumericID(context.Context) (int64, error) { return 42, s.err }

func (s *stubService) LastPatternID(context.Context) (string, bool, error) {
	return s.lastPattern, s.hasPattern, s.err
}

func (s *stubService) NextPatternID(_ context.Context, prefix string, pad int) (string, error) {
	s.patternPrefix, s.patternPad = prefix, pad
	return core.NextIncrementID(s.lastPattern, prefix, pad), s.err
}

func (s *stubService) ListStudents(_ context.Context, q core.ListQuery) (*core.StudentList, error) {
	s.listQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return &core.StudentList{Total: 1, Rows: []core.Student{{"stuid": 7, "stuname": "Asha"}}}, nil
}

func (s *stubService) GetStudent(_ context.Context, id string) (core.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	return core.Student{"stuid": id}, nil
}

func (s *stubService) UpdateStudent(_ context.Context, id string, body map[string]any) (core.Student, error) {
	s.updateID, s.update = id, body
	if s.err != nil {
		return nil, s.err
	}
	return core.Student{"stuid": id}, nil
}

func (s *stubService) DeleteStudent(context.Context, string) error { return s.err }

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Env: "development"},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
}

func newTestServer(t *testing.T, svc StudentService, cfg *config.Config) *Server {
	t.Helper()
	s := NewServer(svc, cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func multipartBody(t *testing.T, field, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "students.csv")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleBulk_BodyForms(t *testing.T) {
	const csvText = "stuname\nAsha\n"
	mpBody, mpType := multipartBody(t, "file", csvText)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"multipart file", mpType, mpBody.String()},
		{"text/csv", "text/csv", csvText},
		{"text/plain", "text/plain; charset=utf-8", csvText},
		{"json", "application/json", `{"csv":"stuname\nAsha\n"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{importRes: &core.ImportResult{TotalRows: 1, Inserted: 1}}
			s := newTestServer(t, svc, testConfig())

			req := httptest.NewRequest(http.MethodPost, "/api/students/bulk", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(s, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
			}
			if string(svc.importData) != csvText {
				t.Errorf("import data = %q, want %q", svc.importData, csvText)
			}
			if svc.importMode != core.ModeInsert {
				t.Errorf("mode = %q, want insert", svc.importMode)
			}
		})
	}
}

func TestHandleBulk_InsertResponse(t *testing.T) {
	svc := &stubService{importRes: &core.ImportResult{
		TotalRows: 3,
		Inserted:  2,
		Skipped:   1,
		Warnings: []core.Warning{{
			Type:    core.WarningMissingColumns,
			Note:    "Some DB columns absent in CSV; they will be inserted as NULL.",
			Columns: []string{"stuid"},
		}},
	}}
	s := newTestServer(t, svc, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/students/bulk", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/csv")
	rec := serve(s, req)

	importID := rec.Header().Get("X-Import-ID")
	if importID == "" || importID != svc.importID {
		t.Errorf("X-Import-ID = %q, service saw %q", importID, svc.importID)
	}

	got := decode[insertResponse](t, rec)
	want := insertResponse{
		Message:   "Bulk insert completed",
		ImportID:  importID,
		TotalRows: 3,
		Inserted:  2,
		Skipped:   1,
		Warnings:  svc.importRes.Warnings,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleBulk_UpsertResponse(t *testing.T) {
	svc := &stubService{importRes: &core.ImportResult{TotalRows: 2, Affected: 2}}
	s := newTestServer(t, svc, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/students/bulk-upsert", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/csv")
	rec := serve(s, req)

	if svc.importMode != core.ModeUpsert {
		t.Errorf("mode = %q, want upsert", svc.importMode)
	}
	if !strings.Contains(rec.Body.String(), `"warnings":[]`) {
		t.Errorf("warnings not rendered as an empty array: %s", rec.Body)
	}
	got := decode[upsertResponse](t, rec)
	if got.Message != "Bulk upsert completed" || got.Affected != 2 {
		t.Errorf("response = %+v", got)
	}
}

func TestHandleBulk_Errors(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		importErr   error
		production  bool
		wantStatus  int
		wantCode    string
		wantError   string
	}{
		{
			name:        "no body",
			path:        "/api/students/bulk",
			contentType: "application/octet-stream",
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE001",
			wantError:   `CSV not provided. Send multipart "file" or raw text/csv or JSON { csv }`,
		},
		{
			name:        "multipart without file field",
			path:        "/api/students/bulk",
			contentType: "multipart/form-data; boundary=x",
			body:        "--x--\r\n",
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE001",
		},
		{
			name:        "json without csv",
			path:        "/api/students/bulk",
			contentType: "application/json",
			body:        `{"rows":[]}`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE001",
		},
		{
			name:        "empty text body",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE001",
		},
		{
			name:        "too large",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			body:        strings.Repeat("x", 2<<20),
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantCode:    "FILE004",
		},
		{
			name:        "no data rows",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			body:        "stuid\n",
			importErr:   core.ErrNoDataRows,
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE003",
			wantError:   "CSV contains no data rows.",
		},
		{
			name:        "parse error",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			body:        "a\n1,2\n",
			importErr:   &core.InputError{Err: errors.New("wrong number of fields")},
			wantStatus:  http.StatusBadRequest,
			wantCode:    "FILE002",
			wantError:   "CSV parse error: wrong number of fields",
		},
		{
			name:        "busy",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			body:        "x",
			importErr:   core.ErrTooManyImports,
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    "IMP001",
		},
		{
			name:        "storage failure on upsert",
			path:        "/api/students/bulk-upsert",
			contentType: "text/csv",
			body:        "x",
			importErr:   fmt.Errorf("import abc: %w", errors.New("syntax error at or near")),
			production:  true,
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "ERR000",
			wantError:   "Internal server error during bulk upsert.",
		},
		{
			name:        "constraint violation",
			path:        "/api/students/bulk",
			contentType: "text/csv",
			body:        "x",
			importErr:   &pgconn.PgError{Code: "22007"},
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "DB003",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{importErr: tt.importErr, importRes: &core.ImportResult{}}
			cfg := testConfig()
			if tt.production {
				cfg.App.Env = "production"
			}
			s := newTestServer(t, svc, cfg)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(s, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			got := decode[ErrorResponse](t, rec)
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.wantError != "" && got.Error != tt.wantError {
				t.Errorf("error = %q, want %q", got.Error, tt.wantError)
			}
			if tt.production && got.Detail != "" {
				t.Errorf("detail leaked in production: %q", got.Detail)
			}
			if rec.Header().Get("X-Import-ID") == "" {
				t.Error("X-Import-ID missing on failure")
			}
		})
	}
}

func TestHandleIDs(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		path       string
		wantBody   string
		wantPrefix string
		wantPad    int
	}{
		{"last id", &stubService{}, "/api/students/last-id", `{"last":41}`, "", 0},
		{"next id", &stubService{}, "/api/students/next-id", `{"next":42}`, "", 0},
		{"last string id", &stubService{lastPattern: "STU_ID_009", hasPattern: true}, "/api/students/last-stuid-string", `{"last":"STU_ID_009"}`, "", 0},
		{"last string id none", &stubService{}, "/api/students/last-stuid-string", `{"last":null}`, "", 0},
		{"next string id", &stubService{lastPattern: "STU_ID_009", hasPattern: true}, "/api/students/next-stuid-string", `{"next":"STU_ID_010"}`, "STU_ID_", 3},
		{"next string id custom", &stubService{}, "/api/students/next-stuid-string?prefix=ADM-&pad=5", `{"next":"ADM-00001"}`, "ADM-", 5},
		{"pad clamped", &stubService{}, "/api/students/next-stuid-string?prefix=&pad=0", `{"next":"1"}`, "", 1},
		{"pad invalid", &stubService{}, "/api/students/next-stuid-string?pad=abc", `{"next":"STU_ID_001"}`, "STU_ID_", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.svc, testConfig())
			rec := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
			if tt.wantPad != 0 && (tt.svc.patternPrefix != tt.wantPrefix || tt.svc.patternPad != tt.wantPad) {
				t.Errorf("NextPatternID(%q, %d), want (%q, %d)", tt.svc.patternPrefix, tt.svc.patternPad, tt.wantPrefix, tt.wantPad)
			}
		})
	}
}

func TestHandleIDs_Failure(t *testing.T) {
	s := newTestServer(t, &stubService{err: errors.New("relation does not exist")}, testConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/students/next-id", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "Failed to fetch next ID" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &stubService{}, testConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/students/health", nil))

	got := decode[map[string]any](t, rec)
	if got["ok"] != true {
		t.Errorf("ok = %v, want true", got["ok"])
	}
	if _, err := time.Parse(time.RFC3339Nano, got["ts"].(string)); err != nil {
		t.Errorf("ts = %v: %v", got["ts"], err)
	}
}

func TestHandleListStudents(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc, testConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/students/?q=asha&limit=10&offset=20", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if diff := cmp.Diff(core.ListQuery{Search: "asha", Limit: 10, Offset: 20}, svc.listQuery); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
	got := decode[core.StudentList](t, rec)
	if got.Total != 1 || len(got.Rows) != 1 {
		t.Errorf("list = %+v", got)
	}
}

func TestHandleStudentRecords(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"get", http.MethodGet, "", nil, http.StatusOK, `{"stuid":"7"}`},
		{"get missing", http.MethodGet, "", core.ErrStudentNotFound, http.StatusNotFound, ""},
		{"update", http.MethodPut, `{"stuname":"Asha","stumob1":9876543210}`, nil, http.StatusOK, `{"stuid":"7"}`},
		{"update bad json", http.MethodPut, `{"stuname":`, nil, http.StatusBadRequest, ""},
		{"update nothing", http.MethodPut, `{"createdat":"x"}`, core.ErrNoUpdatableFields, http.StatusBadRequest, ""},
		{"delete", http.MethodDelete, "", nil, http.StatusOK, `{"message":"Deleted"}`},
		{"delete missing", http.MethodDelete, "", core.ErrStudentNotFound, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{err: tt.err}
			s := newTestServer(t, svc, testConfig())

			req := httptest.NewRequest(tt.method, "/api/students/7", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(s, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantBody != "" && strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, want %s", rec.Body, tt.wantBody)
			}
		})
	}
}

func TestHandleUpdateStudent_PreservesNumbers(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc, testConfig())

	req := httptest.NewRequest(http.MethodPut, "/api/students/7", strings.NewReader(`{"stumob1":98765432101234567}`))
	serve(s, req)

	if got, want := svc.update["stumob1"], json.Number("98765432101234567"); got != want {
		t.Errorf("stumob1 = %#v, want %#v", got, want)
	}
	if svc.updateID != "7" {
		t.Errorf("id = %q, want 7", svc.updateID)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	s := newTestServer(t, &stubService{}, cfg)

	tests := []struct {
		path       string
		key        string
		wantStatus int
	}{
		{"/api/students/health", "", http.StatusOK},
		{"/api/students/last-id", "", http.StatusUnauthorized},
		{"/api/students/last-id", "wrong", http.StatusForbidden},
		{"/api/students/last-id", "k1", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		if rec := serve(s, req); rec.Code != tt.wantStatus {
			t.Errorf("GET %s key=%q status = %d, want %d", tt.path, tt.key, rec.Code, tt.wantStatus)
		}
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 2}
	svc := &stubService{importRes: &core.ImportResult{}}
	s := newTestServer(t, svc, cfg)

	var codes []int
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/students/bulk", strings.NewReader("stuname\nAsha\n"))
		req.Header.Set("Content-Type", "text/csv")
		codes = append(codes, serve(s, req).Code)
	}
	if diff := cmp.Diff([]int{200, 200, 429}, codes); diff != "" {
		t.Errorf("status codes mismatch (-want +got):\n%s", diff)
	}

	// Non-import routes have their own budget.
	if rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/students/last-id", nil)); rec.Code != http.StatusOK {
		t.Errorf("last-id status = %d, want 200", rec.Code)
	}
}
