package mastosw

import (
	"hash/crc32"
	"net/http"
	"time"
)

// CacheEntry is a response snapshot stored in a named cache.
type CacheEntry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

func newEntry(status int, h http.Header, body []byte) CacheEntry {
	ent := CacheEntry{
		Status:   status,
		Header:   cloneHeader(h),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	return ent
}

// cacheable reports whether a response may be written to a cache. Only
// complete responses qualify; 206 and every other status are skipped.
func cacheable(ent CacheEntry) bool {
	return ent.Status == http.StatusOK
}

func (e CacheEntry) clone() CacheEntry {
	out := e
	out.Header = cloneHeader(e.Header)
	return out
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
