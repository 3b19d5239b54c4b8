package query

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	verrors "github.com/xtxerr/vitals/internal/errors"
)

// Direction is the paging direction of a cursor.
type Direction int

const (
	// Forward pages select rows after the cursor, ascending.
	Forward Direction = iota
	// Backward pages select rows before the cursor, descending, and are
	// reversed before they are returned.
	Backward
)

// String returns the cursor encoding of d.
func (d Direction) String() string {
	if d == Backward {
		return "prev"
	}
	return "next"
}

// Cursor is a keyset position: the (recorded_at, id) of a boundary row and
// the direction to continue in.
type Cursor struct {
	RecordedAt time.Time
	ID         int64
	Direction  Direction
}

// EncodeCursor returns the opaque form of c.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.RecordedAt.UTC().UnixMicro(), 10) + "|" +
		strconv.FormatInt(c.ID, 10) + "|" + c.Direction.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode: %v: %w", err, verrors.ErrInvalidCursor)
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return Cursor{}, fmt.Errorf("expected 3 fields, got %d: %w", len(parts), verrors.ErrInvalidCursor)
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("recorded_at: %v: %w", err, verrors.ErrInvalidCursor)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("id: %v: %w", err, verrors.ErrInvalidCursor)
	}

	c := Cursor{RecordedAt: time.UnixMicro(micros).UTC(), ID: id}
	switch parts[2] {
	case "next":
		c.Direction = Forward
	case "prev":
		c.Direction = Backward
	default:
		return Cursor{}, fmt.Errorf("direction %q: %w", parts[2], verrors.ErrInvalidCursor)
	}
	return c, nil
}
