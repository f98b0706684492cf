// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nodeconductor/nodeconductor/internal/conf"
)

// Fields covered by free text search.
var ftsFields = []string{
	"message", "customer_abbreviation", "importance",
	"cloud_account_name", "project_name",
}

// Scopes a user is entitled to see events of, keyed by field name
// (e.g. project_uuid) with the permitted uuid values.
type PermittedScopes map[string][]string

// Query parameters of one event search.
type Query struct {
	// Uuids the requesting user is entitled to.
	Permitted PermittedScopes
	// Optional event type filter.
	EventTypes []string
	// Optional free text search.
	SearchText string
	// Optional exact field filters.
	FieldFilters map[string]string
	// Sort key, "-@timestamp" by default. A leading dash means
	// descending order.
	Sort string
	From int
	Size int
}

// Elasticsearch rejects double quotes inside quoted values, so they
// are stripped from user input before interpolation.
func escapeFieldValue(value string) string {
	return strings.ReplaceAll(value, `"`, "")
}

// Render one field filter as `field:("v1", "v2")`.
func fieldFilter(field string, values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = escapeFieldValue(v)
	}
	return fmt.Sprintf(`%s:("%s")`, field, strings.Join(escaped, `", "`))
}

// BuildQueryString renders the lucene query string: a disjunction of
// permitted-scope filters, ANDed with the event type filter, the free
// text clause and the exact field filters.
func BuildQueryString(q Query) string {
	scopeFields := make([]string, 0, len(q.Permitted))
	for field := range q.Permitted {
		scopeFields = append(scopeFields, field)
	}
	sort.Strings(scopeFields)
	scopeFilters := make([]string, len(scopeFields))
	for i, field := range scopeFields {
		scopeFilters[i] = fieldFilter(field, q.Permitted[field])
	}
	query := "(" + strings.Join(scopeFilters, " OR ") + ")"

	if len(q.EventTypes) > 0 {
		query += " AND " + fieldFilter("event_type", q.EventTypes)
	}
	if q.SearchText != "" {
		ftsFilters := make([]string, len(ftsFields))
		for i, field := range ftsFields {
			ftsFilters[i] = fieldFilter(field, []string{q.SearchText})
		}
		query += " AND (" + strings.Join(ftsFilters, " OR ") + ")"
	}
	filterFields := make([]string, 0, len(q.FieldFilters))
	for field := range q.FieldFilters {
		filterFields = append(filterFields, field)
	}
	sort.Strings(filterFields)
	for _, field := range filterFields {
		query += " AND " + fieldFilter(field, []string{q.FieldFilters[field]})
	}
	return query
}

// One event as stored in the index.
type Event map[string]any

// Result page of an event search, with the stable total count.
type SearchResult struct {
	Events []Event
	Total  int
}

// Client querying the elasticsearch index the event sink ships to.
type ElasticsearchClient struct {
	conf   conf.ElasticsearchConfig
	client *http.Client
}

func NewElasticsearchClient(c conf.ElasticsearchConfig) *ElasticsearchClient {
	transport := &http.Transport{}
	if c.UseSSL && !c.VerifyCerts {
		//nolint:gosec // Skipping verification is an explicit config choice.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &ElasticsearchClient{
		conf:   c,
		client: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

func (c *ElasticsearchClient) baseURL() string {
	protocol := c.conf.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, c.conf.Host, c.conf.Port)
}

// Search runs the query against all indices and returns one page of
// events plus the total count.
func (c *ElasticsearchClient) Search(ctx context.Context, q Query) (SearchResult, error) {
	var result SearchResult

	sortKey := q.Sort
	if sortKey == "" {
		sortKey = "-@timestamp"
	}
	if strings.HasPrefix(sortKey, "-") {
		sortKey = sortKey[1:] + ":desc"
	} else {
		sortKey += ":asc"
	}
	size := q.Size
	if size == 0 {
		size = 10
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{"query": BuildQueryString(q)},
		},
	})
	if err != nil {
		return result, err
	}

	searchURL := fmt.Sprintf("%s/_all/_search?from=%d&size=%d&sort=%s",
		c.baseURL(), q.From, size, url.QueryEscape(sortKey))
	slog.Debug("querying elasticsearch", "url", searchURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(body))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.conf.Username != "" {
		req.SetBasicAuth(c.conf.Username, c.conf.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("elasticsearch returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Hits struct {
			Total json.RawMessage `json:"total"`
			Hits  []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return result, err
	}
	result.Events = make([]Event, len(parsed.Hits.Hits))
	for i, hit := range parsed.Hits.Hits {
		result.Events[i] = hit.Source
	}
	result.Total = parseTotal(parsed.Hits.Total)
	return result, nil
}

// Newer elasticsearch versions report the total as {"value": n},
// older ones as a bare integer.
func parseTotal(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var wrapped struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}
	return 0
}
