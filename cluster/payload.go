package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Format selects how a multi-item batch is put on the wire.
type Format string

const (
	// FormatJSON sends the batch as one JSON array.
	FormatJSON Format = "json"
	// FormatNDJSON sends one compact JSON object per line.
	FormatNDJSON Format = "ndjson"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
)

// ParseFormat accepts "json" or "ndjson".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatNDJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown batch format %q (want json or ndjson)", s)
}

// ContentType is the request content type for the format.
func (f Format) ContentType() string {
	if f == FormatNDJSON {
		return contentTypeNDJSON
	}
	return contentTypeJSON
}

// EncodeBatch renders items in order using format f.
func EncodeBatch(f Format, items []any) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(items)
	case FormatNDJSON:
		var buf bytes.Buffer
		for i, item := range items {
			b, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			buf.Write(b)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown batch format %q", f)
}

type matchQuery struct {
	Query struct {
		Match map[string]string `json:"match"`
	} `json:"query"`
}

type matchAllQuery struct {
	Query struct {
		MatchAll struct{} `json:"match_all"`
	} `json:"query"`
}

type indexSelector struct {
	Index string `json:"index"`
}

type actionMeta struct {
	Index string `json:"_index,omitempty"`
	ID    string `json:"_id,omitempty"`
}

// the update action lists _id before _index
type updateMeta struct {
	ID    string `json:"_id"`
	Index string `json:"_index"`
}

type indexAction struct {
	Index actionMeta `json:"index"`
}

type deleteAction struct {
	Delete actionMeta `json:"delete"`
}

type createAction struct {
	Create actionMeta `json:"create"`
}

type updateAction struct {
	Update updateMeta `json:"update"`
}

type partialDoc struct {
	Doc map[string]string `json:"doc"`
}

func newMatchQuery(field, text string) matchQuery {
	var q matchQuery
	q.Query.Match = map[string]string{field: text}
	return q
}

// SearchQuery is the body posted to test_index/_search.
var SearchQuery = newMatchQuery("name", "OBI")

// MultiSearchBatch returns the _msearch items: header, body, header, body.
func MultiSearchBatch() []any {
	return []any{
		struct{}{},
		newMatchQuery("message", "this is a test"),
		indexSelector{Index: "my-index-000002"},
		matchAllQuery{},
	}
}

// BulkActions returns the _bulk items. Metadata lines are followed by their
// document, except delete which has none.
func BulkActions() []any {
	return []any{
		indexAction{Index: actionMeta{Index: "test", ID: "1"}},
		map[string]string{"field1": "value1"},
		deleteAction{Delete: actionMeta{Index: "test", ID: "2"}},
		createAction{Create: actionMeta{Index: "test", ID: "3"}},
		map[string]string{"field1": "value3"},
		updateAction{Update: updateMeta{ID: "1", Index: "test"}},
		partialDoc{Doc: map[string]string{"field2": "value2"}},
	}
}
