// Package idgen derives the stable identifiers used across the daemon: the
// host ID announced to the cluster, per-download peer IDs, and content-derived
// task IDs.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// SeedPeerSuffix marks hosts that joined the cluster as seed peers.
	SeedPeerSuffix = "seed"
)

// IDGenerator derives host, peer, and task identifiers. Construction is pure
// and cannot fail; all methods are safe for concurrent use.
type IDGenerator struct {
	ip       string
	hostname string
	seedPeer bool
}

// New creates an IDGenerator for this host.
func New(ip, hostname string, seedPeer bool) *IDGenerator {
	return &IDGenerator{
		ip:       ip,
		hostname: hostname,
		seedPeer: seedPeer,
	}
}

// HostID returns the stable host identifier announced to managers and
// schedulers. Seed peers carry a suffix so the scheduler can tell them apart.
func (g *IDGenerator) HostID() string {
	if g.seedPeer {
		return strings.Join([]string{g.ip, g.hostname, SeedPeerSuffix}, "-")
	}
	return strings.Join([]string{g.ip, g.hostname}, "-")
}

// PeerID returns a fresh peer identifier for one download attempt. Peer IDs
// embed the host ID so scheduler logs remain attributable.
func (g *IDGenerator) PeerID() string {
	return strings.Join([]string{g.HostID(), uuid.NewString()}, "-")
}

// TaskID derives the content-addressed task identifier for a download.
//
// Two downloads of the same URL with the same tag and application map to the
// same task and therefore share pieces. Query parameters listed in
// filteredQueryParams are stripped before hashing so that volatile parameters
// (signatures, expiry timestamps) do not fragment the piece cache.
func (g *IDGenerator) TaskID(rawURL, tag, application string, filteredQueryParams []string) string {
	u := filterQuery(rawURL, filteredQueryParams)

	h := sha256.New()
	h.Write([]byte(u))
	if tag != "" {
		h.Write([]byte(tag))
	}
	if application != "" {
		h.Write([]byte(application))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PersistentCacheTaskID derives the task identifier for persistent cache
// content, keyed by the caller-supplied content digest rather than a URL.
func (g *IDGenerator) PersistentCacheTaskID(digest, tag, application string) string {
	h := sha256.New()
	h.Write([]byte(digest))
	if tag != "" {
		h.Write([]byte(tag))
	}
	if application != "" {
		h.Write([]byte(application))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// filterQuery removes the named query parameters from rawURL and normalizes
// the remaining ones into a stable order. Unparseable URLs hash as-is.
func filterQuery(rawURL string, filtered []string) string {
	if len(filtered) == 0 {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	drop := make(map[string]struct{}, len(filtered))
	for _, k := range filtered {
		drop[k] = struct{}{}
	}

	q := u.Query()
	for k := range q {
		if _, ok := drop[k]; ok {
			q.Del(k)
		}
	}

	// url.Values.Encode sorts keys, but sort value lists too so repeated
	// parameters hash stably.
	for k, vs := range q {
		sort.Strings(vs)
		q[k] = vs
	}

	u.RawQuery = q.Encode()
	return u.String()
}
