package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OpenPrinting/go-mfp/util/uuid"
	"github.com/OpenPrinting/goipp"
	"github.com/google/go-cmp/cmp"

	"github.com/mzyy94/pkpgcounter/internal/config"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

func newTestHandler(t *testing.T) (http.Handler, *config.Store) {
	t.Helper()
	store := config.NewMemoryStore()
	h := NewHandler(Options{
		Name:       "test",
		Version:    "3.51",
		UUID:       uuid.SHA1(uuid.NameSpaceDNS, "pkpgcounter.test"),
		ListenPort: 8631,
		Settings:   store,
	})
	return h, store
}

func postScript(pages int) string {
	var b strings.Builder
	b.WriteString("%!PS-Adobe-3.0\n")
	for i := 1; i <= pages; i++ {
		fmt.Fprintf(&b, "%%%%Page: %d %d\nshowpage\n", i, i)
	}
	return b.String()
}

func serve(h http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
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

// --------------------------------------------------------------------------
// Counting
// --------------------------------------------------------------------------

func TestCount_RawBody(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := serve(h, "POST", "/api/count", "application/postscript", []byte(postScript(3)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	got := decode[pdl.Result](t, rec)
	if got.Name != "PostScript" || got.Pages != 3 {
		t.Errorf("result = %+v, want 3 PostScript pages", got)
	}
}

func TestCount_Multipart(t *testing.T) {
	h, _ := newTestHandler(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("comment", "ignored")
	fw, err := mw.CreateFormFile("file", "job.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(strings.Repeat("line\n", 70)))
	mw.Close()

	rec := serve(h, "POST", "/api/count", mw.FormDataContentType(), body.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := decode[pdl.Result](t, rec); got.Pages != 2 {
		t.Errorf("Pages = %d, want 2", got.Pages)
	}
}

func TestCount_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want int
	}{
		{"empty", nil, http.StatusBadRequest},
		{"unknown format", []byte("no line break here"), http.StatusUnsupportedMediaType},
		{"parse error", []byte("ZJZJ" + strings.Repeat("\x00", 16)), http.StatusUnprocessableEntity},
		{"too large", []byte(postScript(200)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestHandler(t)
			s := store.Get()
			s.MaxUploadBytes = config.MinUploadBytes
			if err := store.Update(s); err != nil {
				t.Fatal(err)
			}
			rec := serve(h, "POST", "/api/count", "", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if got := decode[errorResponse](t, rec); got.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

// --------------------------------------------------------------------------
// Coverage
// --------------------------------------------------------------------------

// grayTIFF is a single 1x1 black page.
const grayTIFF = "II*\x00\x08\x00\x00\x00" +
	"\x09\x00" +
	"\x00\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x01\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x02\x01\x03\x00\x01\x00\x00\x00\x08\x00\x00\x00" +
	"\x03\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x06\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x11\x01\x04\x00\x01\x00\x00\x00\x7a\x00\x00\x00" +
	"\x15\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x16\x01\x03\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x17\x01\x04\x00\x01\x00\x00\x00\x01\x00\x00\x00" +
	"\x00\x00\x00\x00" +
	"\x00"

func TestCoverage(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := serve(h, "POST", "/api/coverage?colorspace=bw&resolution=300", "image/tiff", []byte(grayTIFF))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	got := decode[coverageResponse](t, rec)
	if got.Colorspace != "BW" || got.Resolution != 300 || got.Format != "TIFF" {
		t.Errorf("response = %+v, want BW at 300 dpi for TIFF", got)
	}
	if diff := cmp.Diff([]string{"B : 100.000000%"}, got.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestCoverage_BadQuery(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, q := range []string{"colorspace=sepia", "resolution=10", "resolution=high"} {
		rec := serve(h, "POST", "/api/coverage?"+q, "", []byte(grayTIFF))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestCoverage_NoConverter(t *testing.T) {
	h, _ := newTestHandler(t)
	data := append([]byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), make([]byte, 64)...)
	rec := serve(h, "POST", "/api/coverage", "", data)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415: %s", rec.Code, rec.Body)
	}
}

// --------------------------------------------------------------------------
// Status, formats and settings
// --------------------------------------------------------------------------

func TestFormats(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := serve(h, "GET", "/api/formats", "", nil)
	got := decode[[]pdl.Descriptor](t, rec)
	if len(got) != len(pdl.Formats()) || got[0].ID != "postscript" {
		t.Errorf("formats = %+v, want %d formats starting with postscript", got, len(pdl.Formats()))
	}
}

func TestStatus_Counters(t *testing.T) {
	h, _ := newTestHandler(t)
	serve(h, "POST", "/api/count", "", []byte(postScript(2)))
	serve(h, "POST", "/api/count", "", []byte(postScript(5)))
	serve(h, "POST", "/api/count", "", nil)

	got := decode[statusResponse](t, serve(h, "GET", "/api/status", "", nil))
	if got.Documents != 3 || got.Pages != 7 || got.Failures != 1 {
		t.Errorf("counters = %d documents, %d pages, %d failures, want 3, 7, 1", got.Documents, got.Pages, got.Failures)
	}
	if want := uuid.SHA1(uuid.NameSpaceDNS, "pkpgcounter.test").String(); got.UUID != want {
		t.Errorf("UUID = %q, want %q", got.UUID, want)
	}
	if got.Version != "3.51" || !strings.HasSuffix(got.IPPURL, "/ipp/print") {
		t.Errorf("status = %+v", got)
	}
}

func TestSettings(t *testing.T) {
	h, store := newTestHandler(t)

	rec := serve(h, "PUT", "/api/settings", "application/json", []byte(`{"resolution": 600, "colorspace": "rgb"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200: %s", rec.Code, rec.Body)
	}
	want := config.DefaultSettings()
	want.Resolution = 600
	want.Colorspace = "rgb"
	if diff := cmp.Diff(want, store.Get()); diff != "" {
		t.Errorf("stored settings mismatch (-want +got):\n%s", diff)
	}
	got := decode[config.Settings](t, serve(h, "GET", "/api/settings", "", nil))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GET settings mismatch (-want +got):\n%s", diff)
	}

	for _, body := range []string{`{"resolution": 5}`, `{`} {
		if rec := serve(h, "PUT", "/api/settings", "application/json", []byte(body)); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s: status = %d, want 400", body, rec.Code)
		}
	}
	if diff := cmp.Diff(want, store.Get()); diff != "" {
		t.Errorf("settings changed by rejected PUT (-want +got):\n%s", diff)
	}
}

// --------------------------------------------------------------------------
// IPP
// --------------------------------------------------------------------------

func ippRequest(t *testing.T, op goipp.Op, jobName string, document []byte) []byte {
	t.Helper()
	req := goipp.NewRequest(goipp.DefaultVersion, op, 42)
	req.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	req.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en-us")))
	req.Operation.Add(goipp.MakeAttribute("printer-uri", goipp.TagURI, goipp.String("ipp://localhost/ipp/print")))
	if jobName != "" {
		req.Operation.Add(goipp.MakeAttribute("job-name", goipp.TagName, goipp.String(jobName)))
	}
	var buf bytes.Buffer
	if err := req.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.Write(document)
	return buf.Bytes()
}

func ippDecode(t *testing.T, rec *httptest.ResponseRecorder) *goipp.Message {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ippContentType {
		t.Errorf("Content-Type = %q, want %q", ct, ippContentType)
	}
	var resp goipp.Message
	if err := resp.Decode(rec.Body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.RequestID != 42 {
		t.Errorf("RequestID = %d, want 42", resp.RequestID)
	}
	return &resp
}

func TestIPP_PrintJob(t *testing.T) {
	h, _ := newTestHandler(t)
	body := ippRequest(t, goipp.OpPrintJob, "report", []byte(postScript(4)))
	resp := ippDecode(t, serve(h, "POST", "/ipp/print", ippContentType, body))

	if status := goipp.Status(resp.Code); status != goipp.StatusOk {
		t.Fatalf("status = %v, want successful-ok", status)
	}
	if got := ippString(resp.Job, "job-impressions"); got != "4" {
		t.Errorf("job-impressions = %q, want 4", got)
	}
	if got := ippString(resp.Job, "job-id"); got != "1" {
		t.Errorf("job-id = %q, want 1", got)
	}
	if got := ippString(resp.Job, "document-format-detected"); got != "PostScript" {
		t.Errorf("document-format-detected = %q, want PostScript", got)
	}
}

func TestIPP_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want goipp.Status
	}{
		{"unknown format", []byte("no line break here"), goipp.StatusErrorDocumentFormatNotSupported},
		{"empty document", nil, goipp.StatusErrorDocumentFormatError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t)
			body := ippRequest(t, goipp.OpPrintJob, "", tt.body)
			resp := ippDecode(t, serve(h, "POST", "/ipp/print", ippContentType, body))
			if status := goipp.Status(resp.Code); status != tt.want {
				t.Errorf("status = %v, want %v", status, tt.want)
			}
			if ippString(resp.Operation, "status-message") == "" {
				t.Error("status-message is empty")
			}
		})
	}
}

func TestIPP_Operations(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := ippDecode(t, serve(h, "POST", "/ipp/print", ippContentType, ippRequest(t, goipp.OpGetPrinterAttributes, "", nil)))
	if got := ippString(resp.Printer, "printer-name"); got != "test" {
		t.Errorf("printer-name = %q, want test", got)
	}

	resp = ippDecode(t, serve(h, "POST", "/ipp/print", ippContentType, ippRequest(t, goipp.OpCancelJob, "", nil)))
	if status := goipp.Status(resp.Code); status != goipp.StatusErrorOperationNotSupported {
		t.Errorf("status = %v, want operation not supported", status)
	}
}

func TestIPP_BadRequest(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := serve(h, "POST", "/ipp/print", ippContentType, []byte("\x02"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
