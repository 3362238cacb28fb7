// Package envstate snapshots the resource status of the virtualization
// manager into a plain-text file.
package envstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
)

// Categories are the API collections queried, in output order.
var Categories = []string{
	"storagedomains",
	"hosts",
	"clusters",
	"datacenters",
	"vms",
	"networks",
	"templates",
	"disks",
	"vnicprofiles",
}

// StatusKind tells which field a Resource status came from.
type StatusKind string

const (
	KindStatus         StatusKind = "status"
	KindExternalStatus StatusKind = "external_status"
	KindMissing        StatusKind = "missing"
)

// Resource is one entry of a category.
type Resource struct {
	Name   string
	Status string
	Kind   StatusKind
}

// Client queries one manager endpoint.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithUser overrides the API user.
func WithUser(user string) Option {
	return func(c *Client) {
		c.user = user
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Client for endpoint (host[:port], or a full base URL).
// Certificate verification is disabled: managers in test labs use
// self-signed certificates.
func New(endpoint, password string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		user:     defaults.EnvStateUser,
		password: password,
		http:     newHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaults.HTTPClientTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: defaults.HTTPConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   defaults.HTTPTLSHandshakeTimeout,
			ResponseHeaderTimeout: defaults.HTTPResponseHeaderTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec
			},
		},
	}
}

// URL returns the collection URL for category.
func (c *Client) URL(category string) string {
	base := c.endpoint
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/ovirt-engine/api/%s?accept=application/json", strings.TrimSuffix(base, "/"), category)
}

// Snapshot appends one table per category to outputPath. A category that
// cannot be fetched is logged and skipped; only a file error is returned.
func (c *Client) Snapshot(ctx context.Context, outputPath string) error {
	f, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", outputPath, err)
	}
	defer f.Close()

	slog.Info("taking environment snapshot", slog.String("endpoint", c.endpoint), slog.String("output", outputPath))

	for _, category := range Categories {
		resources, err := c.Fetch(ctx, category)
		if err != nil {
			slog.Error("failed to query resource category",
				slog.String("category", category),
				slog.String("error", err.Error()))
			continue
		}
		if err := WriteTable(f, category, resources); err != nil {
			return fmt.Errorf("failed to write %s: %w", outputPath, err)
		}
	}
	return nil
}

// Fetch queries one category.
func (c *Client) Fetch(ctx context.Context, category string) ([]Resource, error) {
	url := c.URL(category)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeInternal, "failed to create request", err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, bherrors.WrapWithContext(bherrors.ErrCodeUnavailable, "request failed", err,
			map[string]any{"url": url})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, bherrors.NewWithContext(bherrors.ErrCodeUnavailable,
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			map[string]any{"url": url, "body": string(body)})
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeUnavailable, "failed to decode response", err)
	}
	return ParseCollection(doc)
}

// ParseCollection decodes a collection document: one key holding the
// entry list. An empty document is an empty collection.
func ParseCollection(doc map[string]json.RawMessage) ([]Resource, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var entries []map[string]any
		if err := json.Unmarshal(doc[k], &entries); err != nil {
			continue
		}
		out := make([]Resource, 0, len(entries))
		for _, e := range entries {
			out = append(out, parseEntry(e))
		}
		return out, nil
	}
	return nil, nil
}

func parseEntry(e map[string]any) Resource {
	r := Resource{Name: stringField(e["name"]), Kind: KindMissing}
	if v, ok := e["status"]; ok {
		r.Status, r.Kind = stringField(v), KindStatus
	} else if v, ok := e["external_status"]; ok {
		r.Status, r.Kind = stringField(v), KindExternalStatus
	}
	return r
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if s, ok := t["state"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v)
}

// WriteTable writes a tab-aligned table for category followed by a blank
// line.
func WriteTable(w io.Writer, category string, resources []Resource) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tState\n", category)
	fmt.Fprintf(tw, "%s\t%s\n", strings.Repeat("-", len(category)), "-----")
	for _, r := range resources {
		status := r.Status
		if r.Kind == KindMissing {
			status = "None"
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.Name, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
