// Package pagination implements keyset pagination for the dashboard list
// endpoints. A cursor names the last row the client saw, as a timestamp plus
// an ID tiebreaker, so pages stay stable while scheduler passes insert new
// rows behind the reader.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit applies when the client does not ask for a page size.
	DefaultLimit = 50
	// MaxLimit caps the page size a client may request.
	MaxLimit = 500
)

// Cursor is a decoded pagination position.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode renders the cursor as the opaque token handed to clients:
// base64 over "ts:{unix_ms}:id:{row_id}". Timestamps round down to the
// millisecond; the ID tiebreaker keeps the position exact anyway.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("ts:%d:id:%s", c.Timestamp.UnixMilli(), c.ID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a client-supplied cursor token. An empty token means
// first page and decodes to a nil cursor without error.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	rest, ok := strings.CutPrefix(string(data), "ts:")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format: missing ts prefix")
	}
	msPart, id, ok := strings.Cut(rest, ":id:")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format: missing id segment")
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor key: %w", err)
	}

	return &Cursor{Timestamp: time.UnixMilli(ms), ID: id}, nil
}

// EncodeCursor builds the token for the row at (timestamp, id).
func EncodeCursor(timestamp time.Time, id string) string {
	return Cursor{Timestamp: timestamp, ID: id}.Encode()
}

// ClampLimit substitutes DefaultLimit for zero or negative page sizes and
// caps requests at MaxLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Params holds parsed pagination parameters.
type Params struct {
	Limit  int
	Cursor *Cursor
}

// ParseQuery parses limit and cursor query parameters as they arrive on REST
// list endpoints. An empty limit yields the default page size.
func ParseQuery(limitStr, cursorStr string) (*Params, error) {
	params := &Params{Limit: DefaultLimit}

	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit: %w", err)
		}
		params.Limit = ClampLimit(limit)
	}

	if cursorStr != "" {
		cursor, err := DecodeCursor(cursorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		params.Cursor = cursor
	}

	return params, nil
}

// PageInfo describes the page boundaries of a list response.
type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// BuildPageInfo constructs page info from query results. resultsLen is the
// slice length after fetching limit+1 rows; lastTimestamp/lastID describe the
// final item of the trimmed page.
func BuildPageInfo(resultsLen, limit int, lastTimestamp time.Time, lastID string) PageInfo {
	info := PageInfo{HasMore: resultsLen > limit}
	if info.HasMore {
		info.NextCursor = EncodeCursor(lastTimestamp, lastID)
	}
	return info
}

// KeysetBuilder renders the WHERE and ORDER BY fragments a keyset-paged
// query needs, given the two columns that form the sort key.
type KeysetBuilder struct {
	TimestampColumn string
	IDColumn        string
}

// Condition renders the cursor comparison as a $N-placeholder fragment,
// or an empty string on a first-page request with no cursor.
func (b *KeysetBuilder) Condition(params *Params, startArgIdx int) (string, []interface{}) {
	if params.Cursor == nil {
		return "", nil
	}

	// WHERE (ts, id) < ($cursor_ts, $cursor_id) fetches items before the
	// cursor position (older items when sorted DESC).
	return fmt.Sprintf("(%s, %s) < ($%d, $%d)",
			b.TimestampColumn, b.IDColumn, startArgIdx, startArgIdx+1),
		[]interface{}{params.Cursor.Timestamp, params.Cursor.ID}
}

// OrderBy returns a SQL ORDER BY clause for keyset pagination, newest first.
func (b *KeysetBuilder) OrderBy() string {
	return fmt.Sprintf("ORDER BY %s DESC, %s DESC", b.TimestampColumn, b.IDColumn)
}
