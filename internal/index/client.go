// Package index is a client for a Solr-compatible document index: add,
// delete, commit, query and grouped query against named cores.
package index

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// IndexError is a non-2xx response from the index service.
type IndexError struct {
	StatusCode int
	Body       string
}

func (e *IndexError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("index: status %d: %s", e.StatusCode, strings.TrimSpace(body))
}

// Result is one page of a query.
type Result struct {
	Total int
	Start int
	Docs  []Document
}

// Group is the documents sharing one value of the group field.
type Group struct {
	Value string
	Total int
	Docs  []Document
}

// GroupedResult is one page of groups.
type GroupedResult struct {
	Matches int
	NGroups int
	Groups  []Group
}

// Client talks to the index over HTTP/JSON.
type Client struct {
	http     *resty.Client
	endpoint string
}

// Option configures a Client.
type Option func(*options)

type options struct {
	timeout    time.Duration
	retries    int
	httpClient *http.Client
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetries retries transport failures. Writes are keyed by document id,
// so a repeated add is harmless.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithHTTPClient swaps the transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New returns a client for the index at endpoint, e.g.
// http://localhost:8983/solr.
func New(endpoint string, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	rc := resty.New()
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	}
	if o.timeout > 0 {
		rc.SetTimeout(o.timeout)
	}
	if o.retries > 0 {
		rc.SetRetryCount(o.retries).SetRetryWaitTime(200 * time.Millisecond)
	}
	rc.JSONMarshal = json.Marshal
	rc.JSONUnmarshal = json.Unmarshal
	rc.SetHeader("Accept", "application/json")
	return &Client{http: rc, endpoint: strings.TrimRight(endpoint, "/")}
}

func (c *Client) url(core, handler string) string {
	return c.endpoint + "/" + core + "/" + handler
}

func (c *Client) update(ctx context.Context, core string, body any, commit bool) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if commit {
		req.SetQueryParam("commit", "true")
	}
	resp, err := req.Post(c.url(core, "update"))
	return check(resp, err)
}

// Add writes docs to core.
func (c *Client) Add(ctx context.Context, core string, docs []Document, commit bool) error {
	if len(docs) == 0 && !commit {
		return nil
	}
	if docs == nil {
		docs = []Document{}
	}
	if err := c.update(ctx, core, docs, commit); err != nil {
		return fmt.Errorf("index: add %d docs to %s: %w", len(docs), core, err)
	}
	return nil
}

// Delete removes every document of core matching query.
func (c *Client) Delete(ctx context.Context, core, query string, commit bool) error {
	body := map[string]any{"delete": map[string]string{"query": query}}
	if err := c.update(ctx, core, body, commit); err != nil {
		return fmt.Errorf("index: delete %q from %s: %w", query, core, err)
	}
	return nil
}

// Commit makes pending writes to core visible.
func (c *Client) Commit(ctx context.Context, core string) error {
	if err := c.update(ctx, core, map[string]any{"commit": map[string]any{}}, false); err != nil {
		return fmt.Errorf("index: commit %s: %w", core, err)
	}
	return nil
}

type docList struct {
	NumFound int        `json:"numFound"`
	Start    int        `json:"start"`
	Docs     []Document `json:"docs"`
}

type selectResponse struct {
	Response docList `json:"response"`
	Grouped  map[string]struct {
		Matches int `json:"matches"`
		NGroups int `json:"ngroups"`
		Groups  []struct {
			GroupValue any     `json:"groupValue"`
			DocList    docList `json:"doclist"`
		} `json:"groups"`
	} `json:"grouped"`
}

func (c *Client) selectQuery(ctx context.Context, core string, params map[string]string) (*selectResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("wt", "json").
		Get(c.url(core, "select"))
	if err := check(resp, err); err != nil {
		return nil, err
	}
	var out selectResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode select response: %w", err)
	}
	return &out, nil
}

// Query returns up to limit documents of core matching query, starting at
// offset. sort may be empty.
func (c *Client) Query(ctx context.Context, core, query string, offset, limit int, sort string) (*Result, error) {
	params := map[string]string{
		"q":     query,
		"start": strconv.Itoa(offset),
		"rows":  strconv.Itoa(limit),
	}
	if sort != "" {
		params["sort"] = sort
	}
	out, err := c.selectQuery(ctx, core, params)
	if err != nil {
		return nil, fmt.Errorf("index: query %q on %s: %w", query, core, err)
	}
	return &Result{Total: out.Response.NumFound, Start: out.Response.Start, Docs: out.Response.Docs}, nil
}

// QueryGrouped groups matching documents by groupField and returns limit
// groups starting at offset, each with up to groupLimit documents starting
// at groupOffset.
func (c *Client) QueryGrouped(ctx context.Context, core, query, groupField string, offset, limit, groupLimit, groupOffset int) (*GroupedResult, error) {
	params := map[string]string{
		"q":             query,
		"start":         strconv.Itoa(offset),
		"rows":          strconv.Itoa(limit),
		"group":         "true",
		"group.field":   groupField,
		"group.limit":   strconv.Itoa(groupLimit),
		"group.offset":  strconv.Itoa(groupOffset),
		"group.ngroups": "true",
	}
	out, err := c.selectQuery(ctx, core, params)
	if err != nil {
		return nil, fmt.Errorf("index: grouped query %q on %s: %w", query, core, err)
	}
	g, ok := out.Grouped[groupField]
	if !ok {
		return &GroupedResult{}, nil
	}
	res := &GroupedResult{Matches: g.Matches, NGroups: g.NGroups}
	for _, grp := range g.Groups {
		res.Groups = append(res.Groups, Group{
			Value: fmt.Sprint(grp.GroupValue),
			Total: grp.DocList.NumFound,
			Docs:  grp.DocList.Docs,
		})
	}
	return res, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &IndexError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

// Escape quotes a value for use in a field query.
func Escape(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

// DatasetQuery matches every row of a dataset, optionally narrowed by a
// user query.
func DatasetQuery(slug, query string) string {
	q := FieldDatasetSlug + ":" + Escape(slug)
	if strings.TrimSpace(query) != "" {
		q += " AND (" + query + ")"
	}
	return q
}
