// Package cursor implements the opaque pagination cursor codec and the
// timestamp-range partitioner that drives the ingestion engine's
// concurrent workers.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/eugener/eventsync/internal/ingest"
)

// nullUUID is the cursor's id field; the server only inspects ts, so any
// well-formed UUID round-trips.
var nullUUID = uuid.Nil.String()

// protocolVersion is the cursor's v field, a literal the server expects.
const protocolVersion = 2

// farFutureExpiryMs is the cursor's exp field: 2100-01-01T00:00:00Z.
const farFutureExpiryMs = 4102444800000

// Forge synthesizes a cursor that decodes back to tsMs.
func Forge(tsMs int64) string {
	c := ingest.Cursor{ID: nullUUID, Ts: tsMs, V: protocolVersion, Exp: farFutureExpiryMs}
	raw, err := json.Marshal(c)
	if err != nil {
		// c is a fixed-shape literal; marshaling can never fail.
		panic("cursor: marshal: " + err.Error())
	}
	return encode(raw)
}

// DecodeTs decodes cursor and returns its ts field. It never panics;
// any parse failure yields (0, false).
func DecodeTs(cur string) (int64, bool) {
	raw, err := decode(cur)
	if err != nil {
		return 0, false
	}
	var c ingest.Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, false
	}
	return c.Ts, true
}

// encode is base64url without padding, matching the server's cursor format.
func encode(raw []byte) string {
	s := base64.RawURLEncoding.EncodeToString(raw)
	return s
}

// decode accepts both padded and unpadded base64url, and tolerates a
// stray '+'/'/' substitution from naive forging elsewhere in the system.
func decode(s string) ([]byte, error) {
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// Partition splits [tsMin, tsMax] into n contiguous, non-overlapping,
// inclusive-start/exclusive-end chunks whose union covers [tsMin, tsMax].
// The final chunk's EndTs is tsMax+1 so events exactly at tsMax are
// captured. For n<=1 the single chunk is [tsMin, tsMax+1).
func Partition(tsMin, tsMax int64, n int) []ingest.Chunk {
	if n < 1 {
		n = 1
	}
	chunks := make([]ingest.Chunk, n)
	width := (tsMax - tsMin) / int64(n)
	for i := range n {
		start := tsMin + width*int64(i)
		var end int64
		if i == n-1 {
			end = tsMax + 1
		} else {
			end = tsMin + width*int64(i+1)
		}
		chunks[i] = ingest.Chunk{StartTs: start, EndTs: end}
	}
	return chunks
}
