// Package ids mints time-ordered object keys for stored files.
package ids

import (
	"io"
	mathrand "math/rand"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator builds keys whose base names sort by creation time.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy io.Reader
}

func NewGenerator(now func() time.Time, seed int64) *Generator {
	return &Generator{
		now:     now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(seed)), 0),
	}
}

var std = NewGenerator(time.Now, time.Now().UnixNano())

// Key places a fresh lower-case ULID under prefix, keeping the lower-cased
// extension of filename.
func Key(prefix, filename string) string {
	return std.Key(prefix, filename)
}

func (g *Generator) Key(prefix, filename string) string {
	g.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	return path.Join(prefix, strings.ToLower(id.String())+strings.ToLower(filepath.Ext(filename)))
}
