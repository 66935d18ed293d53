package secrets_test

import (
	"strings"
	"testing"

	"github.com/feedrelay/feedrelay/internal/secrets"
)

func TestVerifierDeriveDeterministic(t *testing.T) {
	t.Parallel()

	v := secrets.NewVerifier([]byte("server-key"), "")

	first := v.Derive("3f1e9a60-1111-4222-8333-444455556666")
	second := v.Derive("3f1e9a60-1111-4222-8333-444455556666")
	if first != second {
		t.Errorf("Derive is not deterministic: %q != %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("Derive returned %d hex chars, want 64", len(first))
	}
	if strings.Contains(first, "server-key") {
		t.Error("derived secret leaks the server key")
	}

	other := v.Derive("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	if other == first {
		t.Error("different UUIDs derived the same secret")
	}
}

func TestVerifierVerify(t *testing.T) {
	t.Parallel()

	v := secrets.NewVerifier([]byte("server-key"), "builder-secret")
	uuid := "3f1e9a60-1111-4222-8333-444455556666"

	tests := []struct {
		name     string
		provided string
		want     bool
	}{
		{name: "correct secret", provided: v.Derive(uuid), want: true},
		{name: "wrong secret", provided: "deadbeef", want: false},
		{name: "empty secret", provided: "", want: false},
		{name: "secret of another bot", provided: v.Derive("other-uuid"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Verify(uuid, tc.provided); got != tc.want {
				t.Errorf("Verify(%q) = %v, want %v", tc.provided, got, tc.want)
			}
		})
	}

	if !v.VerifyGlobal("builder-secret") {
		t.Error("VerifyGlobal rejected the configured secret")
	}
	if v.VerifyGlobal("wrong") {
		t.Error("VerifyGlobal accepted a wrong secret")
	}

	unset := secrets.NewVerifier([]byte("k"), "")
	if unset.VerifyGlobal("") {
		t.Error("VerifyGlobal matched with no global secret configured")
	}
}

func TestBoxSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	box, err := secrets.NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	token := "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	sealed, err := box.Seal(token)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == token || strings.Contains(sealed, "110201543") {
		t.Error("sealed token is not encrypted")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != token {
		t.Errorf("round trip mismatch: got %q, want %q", opened, token)
	}

	// Sealing is randomized, opening with the wrong key must fail.
	otherBox, err := secrets.NewBox([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	if _, err := otherBox.Open(sealed); err == nil {
		t.Error("Open succeeded with the wrong key")
	}
}

func TestBoxEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	if _, err := secrets.NewBox([]byte("short")); err == nil {
		t.Error("NewBox accepted a short key")
	}

	box, err := secrets.NewBox([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	sealed, err := box.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v; want empty, nil", sealed, err)
	}
	opened, err := box.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v; want empty, nil", opened, err)
	}

	if _, err := box.Open("not base64!!"); err == nil {
		t.Error("Open accepted invalid base64")
	}
	if _, err := box.Open("YWJj"); err == nil {
		t.Error("Open accepted a truncated payload")
	}
}
