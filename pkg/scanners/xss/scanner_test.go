package xss

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const targetPage = `<html><body>
<script>document.write(location.hash); el.innerHTML = '<iframe src="x">';</script>
<script src="/app.js"></script>
<button onclick="go()">Go</button>
<span>%s</span>
<form action="/search" method="get"><input name="q" type="text"><input type="submit" name="go"></form>
<form action="/comment" method="POST"><textarea name="body"></textarea><input type="hidden" name="csrf" value="t"></form>
<form action="/nothing"><input type="checkbox" name="c"></form>
</body></html>`

func vulnerableSite() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// lang is reflected raw, id is not reflected at all
		fmt.Fprintf(w, targetPage, r.URL.Query().Get("lang"))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<p>Results for %s</p>", r.URL.Query().Get("q"))
	})
	mux.HandleFunc("/comment", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprintf(w, "<p>%s</p>", html.EscapeString(r.FormValue("body")))
	})
	return mux
}

func newTestScanner() *Scanner {
	s := NewScanner()
	s.RequestsPerSecond = 0
	return s
}

func TestScan_FindsReflectionsAndPassiveIssues(t *testing.T) {
	srv := httptest.NewServer(vulnerableSite())
	defer srv.Close()

	s := newTestScanner()
	res := s.Scan(context.Background(), srv.URL+"/?id=1&lang=en", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}

	counts := map[string]int{}
	for _, v := range res.Vulnerabilities {
		counts[v.Title]++
	}
	want := map[string]int{
		"Reflected XSS - Form Field (GET)": 5,
		"Reflected XSS - URL Parameter":    3,
		"Potential XSS - Script Content":   1,
		"Potential XSS - Event Handler":    1,
		"Potential DOM XSS":                2,
	}
	for title, n := range want {
		if counts[title] != n {
			t.Errorf("%s: got %d, want %d", title, counts[title], n)
		}
	}
	if counts["Reflected XSS - Form Field"] != 0 {
		t.Errorf("escaped POST form reported as reflected")
	}

	for i, v := range res.Vulnerabilities[:8] {
		if v.Severity != severity.High {
			t.Errorf("vulnerability %d severity = %v, want high first", i, v.Severity)
		}
	}
	for _, v := range res.Vulnerabilities {
		if v.Title == "Reflected XSS - URL Parameter" && !strings.Contains(v.Evidence, "Parameter: lang") {
			t.Errorf("unexpected parameter finding %q", v.Evidence)
		}
	}

	summary := s.GetScanSummary(res)
	if summary.Facets["forms_tested"] != 2 || summary.Facets["parameters_tested"] != 2 || summary.Facets["payloads"] != 16 {
		t.Errorf("facets = %v", summary.Facets)
	}
}

func TestScan_NonOKPageIsAWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	res := newTestScanner().Scan(context.Background(), srv.URL, nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 0 {
		t.Errorf("got %+v", res.Vulnerabilities)
	}
	found := false
	for _, line := range res.ScanLog {
		if strings.Contains(line, "[WARNING]") && strings.Contains(line, "HTTP 404") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing warning: %v", res.ScanLog)
	}
}

func TestScan_CanaryParameterWithoutQuery(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", r.URL.Query().Get("test"))
	}))
	defer srv.Close()

	s := newTestScanner()
	res := s.Scan(context.Background(), srv.URL+"/", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(requests) < 2 {
		t.Fatalf("requests = %v, want page fetch and canary", requests)
	}
	if len(res.Vulnerabilities) != 1 {
		t.Fatalf("got %+v", res.Vulnerabilities)
	}
	v := res.Vulnerabilities[0]
	if v.Title != "Reflected XSS - URL Parameter" || v.Severity != severity.High {
		t.Errorf("vulnerability = %+v", v)
	}
	if v.Payload != "<script>alert('XSS')</script>" || !strings.Contains(v.Evidence, "Parameter: test") {
		t.Errorf("payload = %q, evidence = %q", v.Payload, v.Evidence)
	}
	if !strings.Contains(v.Location, "?test=") {
		t.Errorf("location = %q", v.Location)
	}

	summary := s.GetScanSummary(res)
	if summary.Facets["parameters_tested"] != 1 || summary.Facets["payloads"] != 1 {
		t.Errorf("facets = %v", summary.Facets)
	}
}

func TestScan_Unreachable(t *testing.T) {
	res := newTestScanner().Scan(context.Background(), "http://127.0.0.1:1/", nil)
	if res.Status != core.StatusFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
}

func TestScan_InvalidTarget(t *testing.T) {
	for _, target := range []string{"", "example.com", "ftp://example.com"} {
		res := newTestScanner().Scan(context.Background(), target, nil)
		if res.Status != core.StatusFailed || len(res.Vulnerabilities) != 0 {
			t.Errorf("%q: %v %+v", target, res.Status, res.Vulnerabilities)
		}
	}
}

func TestParsePage(t *testing.T) {
	base, _ := url.Parse("https://example.com/app/")
	page := ParsePage(strings.NewReader(fmt.Sprintf(targetPage, "")), base)

	if len(page.Scripts) != 1 {
		t.Errorf("Scripts = %d, want 1 inline", len(page.Scripts))
	}
	if len(page.Handlers) != 1 || page.Handlers[0].Attr != "onclick" || page.Handlers[0].Tag != "button" {
		t.Errorf("Handlers = %+v", page.Handlers)
	}
	if len(page.Forms) != 3 {
		t.Fatalf("Forms = %d, want 3", len(page.Forms))
	}

	search := page.Forms[0]
	if search.Action != "https://example.com/search" || search.Method != "get" || len(search.Fields) != 2 {
		t.Errorf("search form = %+v", search)
	}
	comment := page.Forms[1]
	if comment.Method != "post" {
		t.Errorf("comment method = %q", comment.Method)
	}
	var textLike []string
	for _, f := range comment.Fields {
		if f.TextLike() {
			textLike = append(textLike, f.Name)
		}
	}
	if len(textLike) != 1 || textLike[0] != "body" {
		t.Errorf("text-like fields = %v", textLike)
	}
}

func TestLimiter(t *testing.T) {
	s := NewScanner()
	if l := s.limiter(nil); l == nil || l.Limit() != rate.Limit(DefaultRequestsPerSecond) {
		t.Errorf("default limiter = %v", l)
	}
	if l := s.limiter(core.Options{"rate_limit": 3}); l == nil || l.Limit() != 3 {
		t.Errorf("rate_limit limiter = %v", l)
	}
	s.RequestsPerSecond = 0
	if l := s.limiter(nil); l != nil {
		t.Errorf("disabled limiter = %v", l)
	}
}
