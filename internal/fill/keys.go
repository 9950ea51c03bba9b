package fill

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/johndauphine/pgslice/internal/session"
)

// DefaultULID sorts before any ULID minted after the Unix epoch. It is the
// cursor floor for sortable keys.
const DefaultULID = "00000H5A406P0C3DQMCQ5MV6WQ"

// ErrUnsupportedKey is returned when the primary key is neither numeric
// nor a sortable string.
var ErrUnsupportedKey = errors.New("Only numeric and sortable-string primary keys are supported")

// KeyStrategy describes how a primary key type is walked in batches. Key
// values are always handled in their text form.
type KeyStrategy interface {
	Name() string
	// Floor is a cursor value below every key.
	Floor() string
	// Less orders two keys.
	Less(a, b string) bool
	// BatchCount is the number of batches between cursor and max, or -1
	// when it cannot be known up front.
	BatchCount(cursor, max string, size int) int
	// Bounded reports whether each batch is a fixed key window. Unbounded
	// strategies advance to the largest key a batch copied.
	Bounded() bool
	// Window is the predicate selecting the batch after cursor.
	Window(pk, cursor string, size int) string
	// Next is the cursor after a bounded batch.
	Next(cursor string, size int) string
	// Valid reports whether key is a value of this key type.
	Valid(key string) bool
}

// DetectStrategy picks the strategy from a sample key: all digits is
// numeric, a 26 character Crockford base32 ULID (optionally prefixed) is
// sortable.
func DetectStrategy(sample string) (KeyStrategy, error) {
	switch {
	case isNumeric(sample):
		return NumericKeys{}, nil
	case isSortable(sample):
		return SortableKeys{}, nil
	}
	return nil, ErrUnsupportedKey
}

var digits = regexp.MustCompile(`^-?\d+$`)

func isNumeric(s string) bool {
	if !digits.MatchString(s) {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isSortable(s string) bool {
	if len(s) < ulid.EncodedSize {
		return false
	}
	tail := s[len(s)-ulid.EncodedSize:]
	if strings.ToUpper(tail) != tail {
		return false
	}
	_, err := ulid.ParseStrict(tail)
	return err == nil
}

// NumericKeys walks integer keys in fixed windows (c, c+size].
type NumericKeys struct{}

func (NumericKeys) Name() string  { return "numeric" }
func (NumericKeys) Floor() string { return "0" }
func (NumericKeys) Bounded() bool { return true }

func (NumericKeys) Less(a, b string) bool {
	return mustInt(a) < mustInt(b)
}

func (NumericKeys) BatchCount(cursor, max string, size int) int {
	diff := mustInt(max) - mustInt(cursor)
	if diff <= 0 {
		return 0
	}
	return int((diff + int64(size) - 1) / int64(size))
}

func (NumericKeys) Window(pk, cursor string, size int) string {
	col := session.QuoteIdent(pk)
	c := mustInt(cursor)
	return fmt.Sprintf("%s > %d AND %s <= %d", col, c, col, c+int64(size))
}

func (NumericKeys) Next(cursor string, size int) string {
	return strconv.FormatInt(mustInt(cursor)+int64(size), 10)
}

func (NumericKeys) Valid(key string) bool { return isNumeric(key) }

// Predecessor of a numeric key is key-1.
func (NumericKeys) Predecessor(id string) string {
	return strconv.FormatInt(mustInt(id)-1, 10)
}

// mustInt parses a key that passed Valid or was read back from
// MAX()::text of a numeric key column.
func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// SortableKeys walks lexicographically sortable string keys such as
// ULIDs. Batch sizes are enforced with LIMIT, so the number of batches is
// unknown until the walk ends.
type SortableKeys struct{}

func (SortableKeys) Name() string  { return "sortable" }
func (SortableKeys) Floor() string { return DefaultULID }
func (SortableKeys) Bounded() bool { return false }

func (SortableKeys) Less(a, b string) bool { return a < b }

func (SortableKeys) BatchCount(string, string, int) int { return -1 }

func (SortableKeys) Window(pk, cursor string, _ int) string {
	return fmt.Sprintf("%s > %s", session.QuoteIdent(pk), session.QuoteLiteral(cursor))
}

func (SortableKeys) Next(cursor string, _ int) string { return cursor }

func (SortableKeys) Valid(key string) bool { return isSortable(key) }
