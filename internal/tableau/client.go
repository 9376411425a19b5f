// Package tableau is a small client for the Tableau Server REST API:
// personal access token sign-in, workbook and view discovery and CSV export
// of view data.
package tableau

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
)

const DefaultAPIVersion = "3.19"

// Config identifies the server and the credentials to sign in with.
type Config struct {
	ServerURL   string
	Site        string
	TokenName   string
	TokenSecret string
	APIVersion  string
	Transport   TransportConfig
}

type Workbook struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectName string `json:"project_name"`
}

type View struct {
	ID          string `json:"id"`
	ViewURLName string `json:"view_url_name"`
	Name        string `json:"name"`
}

// DisplayName prefers the human readable name.
func (v View) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.ViewURLName
}

// Client holds one signed-in session. It is not safe for concurrent use.
type Client struct {
	cfg       Config
	baseURL   string
	transport *Transport

	authToken string
	siteID    string
	userID    string
}

func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	server := strings.TrimRight(cfg.ServerURL, "/")
	return &Client{
		cfg:       cfg,
		baseURL:   server + "/api/" + cfg.APIVersion,
		transport: NewTransport(cfg.Transport),
	}
}

func (c *Client) Authenticated() bool { return c.authToken != "" && c.siteID != "" }
func (c *Client) SiteID() string      { return c.siteID }
func (c *Client) UserID() string      { return c.userID }

type signInRequest struct {
	Credentials struct {
		Name   string `json:"personalAccessTokenName"`
		Secret string `json:"personalAccessTokenSecret"`
		Site   struct {
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
	} `json:"credentials"`
}

type signInResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID string `json:"id"`
		} `json:"site"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"credentials"`
}

// Authenticate signs in with the personal access token and stores the
// session for later calls.
func (c *Client) Authenticate(ctx context.Context) error {
	var req signInRequest
	req.Credentials.Name = c.cfg.TokenName
	req.Credentials.Secret = c.cfg.TokenSecret
	req.Credentials.Site.ContentURL = c.cfg.Site
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal sign-in request: %w", err)
	}

	tl.Log(tl.Info, palette.Cyan, "Signing in to '%s' (site '%s')", c.cfg.ServerURL, c.cfg.Site)
	resp, err := c.transport.Do(ctx, http.MethodPost, c.endpoint("auth/signin"), payload, c.headers("application/json"))
	if err != nil {
		return &AuthenticationError{Reason: "sign-in request failed", Err: err}
	}
	var out signInResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return &AuthenticationError{Reason: "decode sign-in response", Err: err}
	}
	if out.Credentials.Token == "" || out.Credentials.Site.ID == "" {
		return &AuthenticationError{Reason: "response has no token or site id"}
	}
	c.authToken = out.Credentials.Token
	c.siteID = out.Credentials.Site.ID
	c.userID = out.Credentials.User.ID
	tl.Log(tl.Info1, palette.Green, "Signed in, site id '%s'", c.siteID)
	return nil
}

// SignOut ends the session when one exists. Failures are logged and the
// local session is cleared regardless.
func (c *Client) SignOut(ctx context.Context) {
	if c.authToken == "" {
		return
	}
	defer c.clearSession()
	if _, err := c.transport.Do(ctx, http.MethodPost, c.endpoint("auth/signout"), nil, c.headers("application/json")); err != nil {
		tl.Log(tl.Warning, palette.PurpleBright, "Sign out failed: %s", err)
		return
	}
	tl.Log(tl.Info, palette.Cyan, "%s", "Signed out")
}

func (c *Client) clearSession() {
	c.authToken, c.siteID, c.userID = "", "", ""
}

type workbooksResponse struct {
	Workbooks struct {
		Workbook []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Project struct {
				Name string `json:"name"`
			} `json:"project"`
		} `json:"workbook"`
	} `json:"workbooks"`
}

// ListWorkbooksForUser returns the workbooks visible to the signed-in user.
func (c *Client) ListWorkbooksForUser(ctx context.Context) ([]Workbook, error) {
	if !c.Authenticated() || c.userID == "" {
		return nil, ErrNotAuthenticated
	}
	var out workbooksResponse
	if err := c.getJSON(ctx, fmt.Sprintf("sites/%s/users/%s/workbooks", c.siteID, c.userID), &out); err != nil {
		return nil, fmt.Errorf("list workbooks: %w", err)
	}
	wbs := make([]Workbook, 0, len(out.Workbooks.Workbook))
	for _, w := range out.Workbooks.Workbook {
		wbs = append(wbs, Workbook{ID: w.ID, Name: w.Name, ProjectName: w.Project.Name})
	}
	return wbs, nil
}

// FindWorkbooks filters by exact project name and a substring of the
// workbook name. No match is an empty slice, not an error.
func (c *Client) FindWorkbooks(ctx context.Context, projectName, nameContains string) ([]Workbook, error) {
	all, err := c.ListWorkbooksForUser(ctx)
	if err != nil {
		return nil, err
	}
	var found []Workbook
	for _, w := range all {
		if w.ProjectName == projectName && strings.Contains(w.Name, nameContains) {
			found = append(found, w)
		}
	}
	tl.Log(tl.Info, palette.Cyan, "Found %d workbook(s) in project '%s' matching '%s'", len(found), projectName, nameContains)
	return found, nil
}

type viewsResponse struct {
	Views struct {
		View []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			ViewURLName string `json:"viewUrlName"`
		} `json:"view"`
	} `json:"views"`
}

// ListViews returns every view of a workbook.
func (c *Client) ListViews(ctx context.Context, workbookID string) ([]View, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	var out viewsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("sites/%s/workbooks/%s/views", c.siteID, workbookID), &out); err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	views := make([]View, 0, len(out.Views.View))
	for _, v := range out.Views.View {
		views = append(views, View{ID: v.ID, Name: v.Name, ViewURLName: v.ViewURLName})
	}
	return views, nil
}

// FindViews keeps the views whose url name, or failing that display name,
// is one of targets. Views are returned in workbook order. When a target is
// claimed by more than one view both are kept and a warning is logged.
func (c *Client) FindViews(ctx context.Context, workbookID string, targets []string) ([]View, error) {
	all, err := c.ListViews(ctx, workbookID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	claimed := map[string]View{}
	var found []View
	for _, v := range all {
		var key string
		switch {
		case want[v.ViewURLName]:
			key = v.ViewURLName
		case want[v.Name]:
			key = v.Name
		default:
			continue
		}
		if prev, ok := claimed[key]; ok {
			tl.Log(
				tl.Warning, palette.PurpleBright, "Target '%s' matches views '%s' (%s) and '%s' (%s), keeping both",
				key, prev.DisplayName(), prev.ID, v.DisplayName(), v.ID,
			)
		} else {
			claimed[key] = v
		}
		if v.Name != v.ViewURLName && want[v.ViewURLName] && want[v.Name] {
			tl.Log(tl.Warning, palette.PurpleBright, "View '%s' matches targets by url name and by display name", v.ID)
		}
		found = append(found, v)
	}
	tl.Log(tl.Info, palette.Cyan, "Matched %d of %d view(s) in workbook '%s'", len(found), len(all), workbookID)
	return found, nil
}

// FetchViewDataCSV downloads the view data as CSV. The filter is applied
// only when both name and values are given.
func (c *Client) FetchViewDataCSV(ctx context.Context, viewID, filterName string, filterValues []string) ([]byte, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	endpoint := c.endpoint(fmt.Sprintf("sites/%s/views/%s/data", c.siteID, viewID)) + "?" + dataQuery(filterName, filterValues)
	h := c.headers("application/json")
	h.Set("Accept", "text/csv, */*;q=0.8")
	resp, err := c.transport.Do(ctx, http.MethodGet, endpoint, nil, h)
	if err != nil {
		return nil, fmt.Errorf("fetch view %s data: %w", viewID, err)
	}
	tl.Log(tl.Verbose, palette.BlueDim, "Fetched %d bytes for view '%s'", len(resp.Body), viewID)
	return resp.Body, nil
}

// dataQuery builds the export query. Tableau reads vf_<field> filters with
// comma separated values; the fixed paging parameters follow.
func dataQuery(filterName string, filterValues []string) string {
	var parts []string
	if filterName != "" && len(filterValues) > 0 {
		enc := make([]string, len(filterValues))
		for i, v := range filterValues {
			enc[i] = quote(v)
		}
		parts = append(parts, "vf_"+quote(filterName)+"="+strings.Join(enc, ","))
	}
	parts = append(parts, "pageType=actual", "orientation=portrait", "maxRowsPerPage=100000")
	return strings.Join(parts, "&")
}

// quote percent-encodes s with spaces as %20.
func quote(s string) string { return strings.ReplaceAll(url.QueryEscape(s), "+", "%20") }

func (c *Client) endpoint(path string) string { return c.baseURL + "/" + path }

func (c *Client) headers(contentType string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", contentType)
	if c.authToken != "" {
		h.Set("X-Tableau-Auth", c.authToken)
	}
	return h
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.transport.Do(ctx, http.MethodGet, c.endpoint(path), nil, c.headers("application/json"))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
