package main

import "testing"

func TestResolveUserID(t *testing.T) {
	if got := resolveUserID(""); got != "local" {
		t.Fatalf("resolveUserID(\"\") = %q, want local", got)
	}
	if got := resolveUserID("alice"); got != "alice" {
		t.Fatalf("resolveUserID(\"alice\") = %q, want alice", got)
	}
}
