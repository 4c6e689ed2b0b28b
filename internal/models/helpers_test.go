package models

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "atlas", "atlas"},
		{"uppercase", "Atlas", "atlas"},
		{"trimmed", "  Atlas\t", "atlas"},
		{"inner runs collapse", "Fix   login\n bug", "fix login bug"},
		{"empty string", "", ""},
		{"only whitespace", " \t\n", ""},
		{"unicode kept", "Café Étoile", "café étoile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeName(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLedgerKeyRoundTrip(t *testing.T) {
	key := LedgerKey{ConversationID: "conv:42", Action: ActionCreateTask, Fingerprint: "abc123"}

	got, err := ParseLedgerKey(key.String())
	if err != nil {
		t.Fatalf("ParseLedgerKey: %v", err)
	}
	if got != key {
		t.Errorf("ParseLedgerKey(%q) = %+v, want %+v", key.String(), got, key)
	}

	for _, bad := range []string{"", "nocolons", ":create_task:abc", "conv:create_task:"} {
		if _, err := ParseLedgerKey(bad); err == nil {
			t.Errorf("ParseLedgerKey(%q) expected error", bad)
		}
	}
}

func TestMessageRef(t *testing.T) {
	optimistic := Message{ClientID: "c1", Role: RoleUser, Content: "hi"}
	canonical := Message{ID: "m1", ClientID: "c1", Role: RoleUser, Content: "hi"}

	ref := optimistic.Ref()
	if !ref.Matches(canonical) {
		t.Errorf("client ref should match canonical copy carrying the same client ID")
	}
	if ref.Key() != "c:c1" {
		t.Errorf("Key() = %q, want c:c1", ref.Key())
	}

	server := Message{ID: "m2"}.Ref()
	if server.Key() != "s:m2" {
		t.Errorf("Key() = %q, want s:m2", server.Key())
	}
	if server.Matches(canonical) {
		t.Errorf("ref for m2 should not match m1")
	}
	if (MessageRef{}).Matches(Message{}) {
		t.Errorf("empty ref must not match")
	}
}
