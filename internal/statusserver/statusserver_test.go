package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPStatusServesJSON(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	faults := func() (int, int, int, int) { return 1, 2, 3, 4 }
	s := New(":0", CorpusInfo{Size: 7, Tag: 0xabcd}, faults, start)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.httpStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if status.CorpusSize != 7 {
		t.Fatalf("CorpusSize = %d, want 7", status.CorpusSize)
	}
	if status.CorpusTag != 0xabcd {
		t.Fatalf("CorpusTag = %#x, want %#x", status.CorpusTag, 0xabcd)
	}
	if status.SIGSEGV != 1 || status.SIGILL != 2 || status.SIGFPE != 3 || status.SIGTRAP != 4 {
		t.Fatalf("unexpected fault counts: %+v", status)
	}
}

func TestHTTPStatusWithoutFaultCounter(t *testing.T) {
	s := New(":0", CorpusInfo{Size: 1, Tag: 1}, nil, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.httpStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
}
