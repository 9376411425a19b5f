package tableau

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// fakeServer answers sign-in and routes everything else to handlers keyed
// by the path below /api/3.19/.
type fakeServer struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	signouts int32
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/3.19/")
	f.mu.Lock()
	h, ok := f.routes[path]
	f.mu.Unlock()
	if ok {
		h(w, r)
		return
	}
	switch path {
	case "auth/signin":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"credentials": map[string]any{
				"token": "tok-123",
				"site":  map[string]any{"id": "site-1", "contentUrl": "admissions"},
				"user":  map[string]any{"id": "user-9"},
			},
		})
	case "auth/signout":
		atomic.AddInt32(&f.signouts, 1)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes == nil {
		f.routes = map[string]http.HandlerFunc{}
	}
	f.routes[path] = h
}

// sequence replies with statuses in order, repeating the last one.
func sequence(statuses []int, headers []http.Header, okBody any, hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(hits, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if headers != nil && i < len(headers) && headers[i] != nil {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(statuses[i])
		if statuses[i] >= 200 && statuses[i] < 300 {
			_ = json.NewEncoder(w).Encode(okBody)
			return
		}
		_, _ = w.Write([]byte(`{"error":{"summary":"try later"}}`))
	}
}

func newTestClient(t *testing.T, serverURL string, retries int) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(Config{
		ServerURL:   serverURL,
		Site:        "admissions",
		TokenName:   "report-bot",
		TokenSecret: "secret",
		Transport:   TransportConfig{TotalRetries: retries, BackoffFactor: 10 * time.Millisecond},
	})
	var slept []time.Duration
	c.transport.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func workbooksBody(items ...[3]string) map[string]any {
	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, map[string]any{"id": it[0], "name": it[1], "project": map[string]any{"name": it[2]}})
	}
	return map[string]any{"workbooks": map[string]any{"workbook": list}}
}

func TestAuthenticateSendsCredentialsAndAuthHeader(t *testing.T) {
	fs := &fakeServer{}
	var gotAuth string
	fs.handle("auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body signInRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode sign-in: %v", err)
		}
		if body.Credentials.Name != "report-bot" || body.Credentials.Secret != "secret" || body.Credentials.Site.ContentURL != "admissions" {
			t.Errorf("unexpected credentials: %+v", body.Credentials)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"credentials": map[string]any{
			"token": "tok-123", "site": map[string]any{"id": "site-1"}, "user": map[string]any{"id": "user-9"},
		}})
	})
	fs.handle("sites/site-1/users/user-9/workbooks", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Tableau-Auth")
		_ = json.NewEncoder(w).Encode(workbooksBody())
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)

	if _, err := c.ListWorkbooksForUser(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before sign-in, got %v", err)
	}
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !c.Authenticated() || c.SiteID() != "site-1" || c.UserID() != "user-9" {
		t.Fatalf("session not stored: site=%q user=%q", c.SiteID(), c.UserID())
	}
	if _, err := c.ListWorkbooksForUser(context.Background()); err != nil {
		t.Fatalf("list workbooks: %v", err)
	}
	if gotAuth != "tok-123" {
		t.Fatalf("X-Tableau-Auth = %q", gotAuth)
	}
}

func TestAuthenticateWithoutTokenFails(t *testing.T) {
	fs := &fakeServer{}
	fs.handle("auth/signin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"credentials":{"site":{"id":"site-1"}}}`))
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	err := c.Authenticate(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T %v", err, err)
	}
	if c.Authenticated() {
		t.Fatalf("client should not report a session")
	}
}

func TestFindWorkbooksNoMatchIsEmpty(t *testing.T) {
	fs := &fakeServer{}
	fs.handle("sites/site-1/users/user-9/workbooks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(workbooksBody(
			[3]string{"wb-1", "Student_Lifecycle_Pipeline", "Other Project"},
			[3]string{"wb-2", "Finance", "Admissions Pipeline"},
		))
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	wbs, err := c.FindWorkbooks(context.Background(), "Admissions Pipeline", "Student_Lifecycle_Pipeline")
	if err != nil {
		t.Fatalf("find workbooks: %v", err)
	}
	if len(wbs) != 0 {
		t.Fatalf("expected no workbooks, got %+v", wbs)
	}
}

func TestFindWorkbooksKeepsOrder(t *testing.T) {
	fs := &fakeServer{}
	fs.handle("sites/site-1/users/user-9/workbooks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(workbooksBody(
			[3]string{"wb-2", "Student_Lifecycle_Pipeline v2", "Admissions Pipeline"},
			[3]string{"wb-3", "Misc", "Admissions Pipeline"},
			[3]string{"wb-1", "Student_Lifecycle_Pipeline", "Admissions Pipeline"},
		))
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	wbs, err := c.FindWorkbooks(context.Background(), "Admissions Pipeline", "Student_Lifecycle_Pipeline")
	if err != nil {
		t.Fatalf("find workbooks: %v", err)
	}
	if len(wbs) != 2 || wbs[0].ID != "wb-2" || wbs[1].ID != "wb-1" {
		t.Fatalf("unexpected workbooks: %+v", wbs)
	}
}

func TestRetriesThrough503s(t *testing.T) {
	fs := &fakeServer{}
	var hits int32
	fs.handle("sites/site-1/users/user-9/workbooks", sequence(
		[]int{503, 503, 503, 200}, nil,
		workbooksBody([3]string{"wb-1", "Student_Lifecycle_Pipeline", "Admissions Pipeline"}), &hits,
	))
	srv := newIPv4Server(t, fs)
	c, slept := newTestClient(t, srv.URL, 3)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	wbs, err := c.ListWorkbooksForUser(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(wbs) != 1 || atomic.LoadInt32(&hits) != 4 {
		t.Fatalf("workbooks=%d hits=%d", len(wbs), hits)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("slept %v, want %v", *slept, want)
		}
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	fs := &fakeServer{}
	var hits int32
	fs.handle("sites/site-1/users/user-9/workbooks", sequence([]int{503}, nil, nil, &hits))
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 2)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	_, err := c.ListWorkbooksForUser(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T %v", err, err)
	}
	if httpErr.StatusCode != 503 || httpErr.Attempts != 3 {
		t.Fatalf("status=%d attempts=%d", httpErr.StatusCode, httpErr.Attempts)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("HTTPError should unwrap to APIError")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestRetryAfterHonoured(t *testing.T) {
	fs := &fakeServer{}
	var hits int32
	headers := []http.Header{{"Retry-After": []string{"2"}}, nil}
	fs.handle("sites/site-1/users/user-9/workbooks", sequence([]int{429, 200}, headers, workbooksBody(), &hits))
	srv := newIPv4Server(t, fs)
	c, slept := newTestClient(t, srv.URL, 3)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := c.ListWorkbooksForUser(context.Background()); err != nil {
		t.Fatalf("list workbooks: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Fatalf("slept %v, want [2s]", *slept)
	}
}

func TestNotFoundFailsFast(t *testing.T) {
	fs := &fakeServer{}
	var hits int32
	fs.handle("sites/site-1/workbooks/wb-x/views", sequence([]int{404}, nil, nil, &hits))
	srv := newIPv4Server(t, fs)
	c, slept := newTestClient(t, srv.URL, 3)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	_, err := c.ListViews(context.Background(), "wb-x")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 || len(*slept) != 0 {
		t.Fatalf("404 should not be retried: hits=%d slept=%v", hits, *slept)
	}
}

func TestConnectionErrorAfterRetries(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c, slept := newTestClient(t, "http://"+addr, 1)
	err = c.Authenticate(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T %v", err, err)
	}
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("sign-in failures should be wrapped in AuthenticationError")
	}
	if connErr.Attempts != 2 || len(*slept) != 1 {
		t.Fatalf("attempts=%d slept=%v", connErr.Attempts, *slept)
	}
}

func TestSignOutClearsSessionOnFailure(t *testing.T) {
	fs := &fakeServer{}
	fs.handle("auth/signout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	c.SignOut(context.Background())
	if c.Authenticated() || c.SiteID() != "" || c.UserID() != "" {
		t.Fatalf("session should be cleared after a failed sign-out")
	}
	// A second sign-out without a session makes no request.
	c.SignOut(context.Background())
}

func TestFetchViewDataCSVQuery(t *testing.T) {
	fs := &fakeServer{}
	var rawQuery, accept string
	fs.handle("sites/site-1/views/v-1/data", func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("Application Term,Program\nFALL 2025,Nursing\n"))
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	if _, err := c.FetchViewDataCSV(context.Background(), "v-1", "", nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	data, err := c.FetchViewDataCSV(context.Background(), "v-1", "Application Term", []string{"FALL 2025", "SPRING 2025"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasPrefix(string(data), "Application Term,Program") {
		t.Fatalf("unexpected body %q", data)
	}
	want := "vf_Application%20Term=FALL%202025,SPRING%202025&pageType=actual&orientation=portrait&maxRowsPerPage=100000"
	if rawQuery != want {
		t.Fatalf("query = %q\nwant    %q", rawQuery, want)
	}
	if accept != "text/csv, */*;q=0.8" {
		t.Fatalf("Accept = %q", accept)
	}

	if _, err := c.FetchViewDataCSV(context.Background(), "v-1", "Application Term", nil); err != nil {
		t.Fatalf("fetch without values: %v", err)
	}
	if rawQuery != "pageType=actual&orientation=portrait&maxRowsPerPage=100000" {
		t.Fatalf("filter should be omitted without values, got %q", rawQuery)
	}
}

func TestFindViewsByURLNameOrDisplayName(t *testing.T) {
	fs := &fakeServer{}
	fs.handle("sites/site-1/workbooks/wb-1/views", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"views": map[string]any{"view": []any{
			map[string]any{"id": "v-1", "viewUrlName": "PowerCampusApplicantDownload", "name": "Applicant Download"},
			map[string]any{"id": "v-2", "viewUrlName": "Unrelated", "name": "Unrelated"},
			map[string]any{"id": "v-3", "viewUrlName": "ProgressTable", "name": "Progress Report"},
			map[string]any{"id": "v-4", "viewUrlName": "Copy", "name": "PowerCampusApplicantDownload"},
		}}})
	})
	srv := newIPv4Server(t, fs)
	c, _ := newTestClient(t, srv.URL, 0)
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	views, err := c.FindViews(context.Background(), "wb-1", []string{"PowerCampusApplicantDownload", "Progress Report"})
	if err != nil {
		t.Fatalf("find views: %v", err)
	}
	var ids []string
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	if strings.Join(ids, ",") != "v-1,v-3,v-4" {
		t.Fatalf("matched %v, want v-1,v-3,v-4", ids)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	tr := NewTransport(TransportConfig{BackoffFactor: time.Second, MaxBackoff: 5 * time.Second})
	got := []time.Duration{tr.backoff(1), tr.backoff(2), tr.backoff(3), tr.backoff(4), tr.backoff(10)}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff = %v, want %v", got, want)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if s, err := parseRetryAfterSeconds("7"); err != nil || s != 7 {
		t.Fatalf("seconds form: %d %v", s, err)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if s, err := parseRetryAfterSeconds(future); err != nil || s < 25 || s > 30 {
		t.Fatalf("date form: %d %v", s, err)
	}
	if _, err := parseRetryAfterSeconds("soon"); err == nil {
		t.Fatalf("expected error for invalid value")
	}
}

func newTimeoutTransport(retries int) *Transport {
	tr := NewTransport(TransportConfig{ReadTimeout: 200 * time.Millisecond, TotalRetries: retries})
	tr.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return tr
}

// waitOrGone blocks until the client drops the request or d passes.
func waitOrGone(r *http.Request, d time.Duration) {
	select {
	case <-r.Context().Done():
	case <-time.After(d):
	}
}

func TestSlowHeadersTimeOut(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		waitOrGone(r, 3*time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	tr := newTimeoutTransport(1)

	start := time.Now()
	_, err := tr.Do(context.Background(), http.MethodGet, srv.URL+"/slow", nil, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("read timeout not applied, took %s", elapsed)
	}
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %T %v", err, err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Attempts != 2 {
		t.Fatalf("expected APIError with 2 attempts, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}
}

func TestStalledBodyTimesOut(t *testing.T) {
	var hits int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("a,b\n"))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		waitOrGone(r, 3*time.Second)
	}))
	tr := newTimeoutTransport(1)

	start := time.Now()
	_, err := tr.Do(context.Background(), http.MethodGet, srv.URL+"/data", nil, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("body read not bounded, took %s", elapsed)
	}
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), "read body") {
		t.Fatalf("error should name the body read: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Attempts != 2 {
		t.Fatalf("expected APIError with 2 attempts, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}
}

func TestSlowBodyWithinIdleTimeoutSucceeds(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fl, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte("row\n"))
			if fl != nil {
				fl.Flush()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}))
	tr := newTimeoutTransport(0)

	resp, err := tr.Do(context.Background(), http.MethodGet, srv.URL+"/trickle", nil, nil)
	if err != nil {
		t.Fatalf("trickling body should not time out: %v", err)
	}
	if string(resp.Body) != "row\nrow\nrow\nrow\n" {
		t.Fatalf("body = %q", resp.Body)
	}
}
