package coordinator

import "testing"

func TestRegistryBindEvicts(t *testing.T) {
	r := NewRegistry()

	if evicted := r.Bind("conn-1", "alice"); evicted != "" {
		t.Fatalf("first bind evicted %q", evicted)
	}
	if evicted := r.Bind("conn-2", "alice"); evicted != "conn-1" {
		t.Fatalf("evicted = %q, want conn-1", evicted)
	}

	if connID, _ := r.ConnectionFor("alice"); connID != "conn-2" {
		t.Fatalf("ConnectionFor = %q, want conn-2", connID)
	}
	if _, ok := r.IdentityFor("conn-1"); ok {
		t.Fatal("evicted connection must be unmapped")
	}
}

func TestRegistryRebindSameConnection(t *testing.T) {
	r := NewRegistry()
	r.Bind("conn-1", "alice")
	if evicted := r.Bind("conn-1", "alice"); evicted != "" {
		t.Fatalf("rebinding same connection evicted %q", evicted)
	}
	if connID, _ := r.ConnectionFor("alice"); connID != "conn-1" {
		t.Fatalf("ConnectionFor = %q, want conn-1", connID)
	}
}

func TestRegistryUnbindStale(t *testing.T) {
	r := NewRegistry()
	r.Bind("conn-1", "alice")
	r.Bind("conn-2", "alice")

	// The evicted connection goes away after the rebind. Its unbind must
	// not tear down the live binding.
	identityID, current := r.Unbind("conn-1")
	if identityID != "" || current {
		t.Fatalf("stale unbind = (%q, %v), want ignored", identityID, current)
	}
	if connID, ok := r.ConnectionFor("alice"); !ok || connID != "conn-2" {
		t.Fatalf("live binding lost: %q ok=%v", connID, ok)
	}

	identityID, current = r.Unbind("conn-2")
	if identityID != "alice" || !current {
		t.Fatalf("current unbind = (%q, %v), want (alice, true)", identityID, current)
	}
	if _, ok := r.ConnectionFor("alice"); ok {
		t.Fatal("alice should be unbound")
	}
}

func TestRegistryUnbindUnknown(t *testing.T) {
	r := NewRegistry()
	if identityID, current := r.Unbind("ghost"); identityID != "" || current {
		t.Fatalf("unknown unbind = (%q, %v)", identityID, current)
	}
}
