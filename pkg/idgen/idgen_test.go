package idgen

import (
	"strings"
	"testing"
)

func TestHostID(t *testing.T) {
	g := New("10.0.0.5", "worker-1", false)
	if got := g.HostID(); got != "10.0.0.5-worker-1" {
		t.Errorf("unexpected host ID: %q", got)
	}

	seed := New("10.0.0.5", "worker-1", true)
	if got := seed.HostID(); got != "10.0.0.5-worker-1-seed" {
		t.Errorf("unexpected seed host ID: %q", got)
	}
}

func TestPeerIDUniqueAndAttributable(t *testing.T) {
	g := New("10.0.0.5", "worker-1", false)

	a := g.PeerID()
	b := g.PeerID()

	if a == b {
		t.Error("peer IDs must be unique per call")
	}
	if !strings.HasPrefix(a, g.HostID()+"-") {
		t.Errorf("peer ID %q must embed host ID %q", a, g.HostID())
	}
}

func TestTaskIDStable(t *testing.T) {
	g := New("10.0.0.5", "worker-1", false)

	a := g.TaskID("https://example.com/blob.tar.gz", "v1", "ci", nil)
	b := g.TaskID("https://example.com/blob.tar.gz", "v1", "ci", nil)
	if a != b {
		t.Error("same inputs must yield same task ID")
	}

	c := g.TaskID("https://example.com/blob.tar.gz", "v2", "ci", nil)
	if a == c {
		t.Error("different tag must yield different task ID")
	}
}

func TestTaskIDFiltersVolatileQueryParams(t *testing.T) {
	g := New("10.0.0.5", "worker-1", false)

	signed := g.TaskID("https://example.com/blob?X-Signature=abc&name=x", "", "", []string{"X-Signature"})
	resigned := g.TaskID("https://example.com/blob?X-Signature=def&name=x", "", "", []string{"X-Signature"})
	if signed != resigned {
		t.Error("filtered query params must not affect the task ID")
	}

	other := g.TaskID("https://example.com/blob?name=y", "", "", []string{"X-Signature"})
	if signed == other {
		t.Error("unfiltered query params must affect the task ID")
	}
}

func TestPersistentCacheTaskID(t *testing.T) {
	g := New("10.0.0.5", "worker-1", false)

	a := g.PersistentCacheTaskID("sha256:abc", "v1", "")
	b := g.PersistentCacheTaskID("sha256:abc", "v1", "")
	if a != b {
		t.Error("same digest must yield same ID")
	}
	if a == g.PersistentCacheTaskID("sha256:def", "v1", "") {
		t.Error("different digest must yield different ID")
	}
}
