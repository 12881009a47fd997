package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"feedline/internal/types"
)

// rawPage accepts either a bare JSON array or an object with an items,
// data or content array.
type rawPage[T any] struct {
	page types.Page[T]
}

func (p *rawPage[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &p.page.Items)
	}
	var obj struct {
		Items   []T `json:"items"`
		Data    []T `json:"data"`
		Content []T `json:"content"`
		Page    int `json:"page"`
		Limit   int `json:"limit"`
		Total   int `json:"total"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	items := obj.Items
	if items == nil {
		items = obj.Data
	}
	if items == nil {
		items = obj.Content
	}
	p.page = types.Page[T]{Items: items, Page: obj.Page, Limit: obj.Limit, Total: obj.Total}
	return nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

// getPage fetches one page of a paginated collection.
func getPage[T any](ctx context.Context, c *Client, path string, page, limit int, extra url.Values) (types.Page[T], error) {
	q := pageQuery(page, limit)
	for k, vs := range extra {
		q[k] = vs
	}
	var raw rawPage[T]
	if err := c.Do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return types.Page[T]{}, err
	}
	out := raw.page
	if out.Page == 0 {
		out.Page = page
	}
	if out.Limit == 0 {
		out.Limit = limit
	}
	if out.Items == nil {
		out.Items = []T{}
	}
	return out, nil
}

func escape(id types.ID) string { return url.PathEscape(string(id)) }

func pathf(format string, ids ...types.ID) string {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = escape(id)
	}
	return fmt.Sprintf(format, args...)
}
