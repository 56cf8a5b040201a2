package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/exploopio/scanorch/pkg/scanners"
)

func healthy(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }
func degraded(ctx context.Context) CheckResult { return CheckResult{Status: StatusDegraded} }
func unhealthy(ctx context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestHandler_OverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   Status
		code   int
	}{
		{"no checks", nil, StatusHealthy, http.StatusOK},
		{"all healthy", map[string]CheckFunc{"a": healthy, "b": healthy}, StatusHealthy, http.StatusOK},
		{"degraded", map[string]CheckFunc{"a": healthy, "b": degraded}, StatusDegraded, http.StatusOK},
		{"unhealthy wins", map[string]CheckFunc{"a": degraded, "b": unhealthy}, StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(WithVersion("1.0.0"), WithTimeout(time.Second))
			for name, fn := range tt.checks {
				h.Register(name, fn)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}

			var resp Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("Status = %v, want %v", resp.Status, tt.want)
			}
			if resp.Version != "1.0.0" || len(resp.Checks) != len(tt.checks) {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestStoreCheck(t *testing.T) {
	ok := (&StoreCheck{Ping: func(context.Context) error { return nil }}).Check(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("ok = %+v", ok)
	}
	bad := (&StoreCheck{Ping: func(context.Context) error { return errors.New("database is locked") }}).Check(context.Background())
	if bad.Status != StatusUnhealthy || bad.Error != "database is locked" {
		t.Errorf("bad = %+v", bad)
	}
	if (&StoreCheck{}).Check(context.Background()).Status != StatusUnknown {
		t.Error("nil ping should be unknown")
	}
}

func TestAdapterCheck_MissingBinaryDegrades(t *testing.T) {
	reg := scanners.NewDefaultRegistry(scanners.Config{Binaries: map[string]string{
		"nmap": "scanorch-missing-nmap",
	}})
	res := (&AdapterCheck{Registry: reg}).Check(context.Background())
	if res.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", res.Status)
	}
	if res.Metadata["nmap"] != "missing" {
		t.Errorf("Metadata = %v", res.Metadata)
	}
}

func TestDiskCheck(t *testing.T) {
	res := (&DiskCheck{Path: t.TempDir()}).Check(context.Background())
	if res.Status == StatusUnhealthy {
		t.Errorf("DiskCheck = %+v", res)
	}
	res = (&DiskCheck{Path: "/nonexistent/scanorch"}).Check(context.Background())
	if res.Status == StatusHealthy {
		t.Errorf("missing path = %+v", res)
	}
}
