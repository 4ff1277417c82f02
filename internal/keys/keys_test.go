package keys

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestManager(policy Policy) *Manager {
	return NewManager(NewMemoryStore(), policy)
}

func TestGenerateAndVerify(t *testing.T) {
	m := newTestManager(Policy{})
	ctx := context.Background()

	gen, err := m.Generate(ctx, GenerateInput{Label: "ci", TTLSeconds: 3600, Scopes: []string{"proxy"}})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(gen.Token, "sk_") {
		t.Errorf("token = %q", gen.Token)
	}
	rest := strings.TrimPrefix(gen.Token, "sk_")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || len(parts[0]) != 32 || len(parts[1]) != 64 {
		t.Fatalf("token shape = %q", gen.Token)
	}

	verdict, meta := m.Verify(ctx, gen.Token)
	if verdict != Valid {
		t.Fatalf("verdict = %v, want Valid", verdict)
	}
	if meta.ID != gen.ID || meta.Label != "ci" {
		t.Errorf("meta = %+v", meta)
	}

	// The secret is never persisted.
	rec, err := m.store.Get(ctx, gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rec.SecretHash, parts[1]) || rec.Salt == "" {
		t.Error("record leaks the secret or has no salt")
	}
}

func TestSingleBitFlipFails(t *testing.T) {
	m := newTestManager(Policy{})
	ctx := context.Background()
	gen, err := m.Generate(ctx, GenerateInput{TTLSeconds: 60})
	if err != nil {
		t.Fatal(err)
	}

	// Flip one bit of the last secret character (hex digit xor 1).
	token := []byte(gen.Token)
	last := token[len(token)-1]
	if last == '0' {
		token[len(token)-1] = '1'
	} else {
		token[len(token)-1] = last ^ 1
	}

	if verdict, _ := m.Verify(ctx, string(token)); verdict != Invalid {
		t.Errorf("verdict = %v, want Invalid for flipped secret", verdict)
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	m := newTestManager(Policy{})
	ctx := context.Background()
	for _, tok := range []string{
		"", "sk_", "sk_short.secret", "nonsense",
		"sk_" + strings.Repeat("a", 32), // no secret
		strings.Repeat("a", 32) + "." + strings.Repeat("b", 64), // no prefix
	} {
		if verdict, _ := m.Verify(ctx, tok); verdict != Invalid {
			t.Errorf("token %q: verdict = %v", tok, verdict)
		}
	}
}

func TestRevocationIsFinal(t *testing.T) {
	m := newTestManager(Policy{})
	ctx := context.Background()
	gen, _ := m.Generate(ctx, GenerateInput{TTLSeconds: 3600})

	ok, err := m.Revoke(ctx, gen.ID)
	if err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if verdict, _ := m.Verify(ctx, gen.Token); verdict != Revoked {
		t.Errorf("verdict = %v, want Revoked", verdict)
	}

	// Extending the expiry does not resurrect a revoked key.
	if _, err := m.SetExpiration(ctx, gen.ID, time.Now().Add(time.Hour).Unix()); err != nil {
		t.Fatal(err)
	}
	if verdict, _ := m.Verify(ctx, gen.Token); verdict != Revoked {
		t.Errorf("verdict after extension = %v, want Revoked", verdict)
	}

	if ok, _ := m.Revoke(ctx, "00000000000000000000000000000000"); ok {
		t.Error("revoking unknown id reported true")
	}
}

func TestExpiry(t *testing.T) {
	m := newTestManager(Policy{})
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	gen, _ := m.Generate(ctx, GenerateInput{TTLSeconds: 60})
	if verdict, _ := m.Verify(ctx, gen.Token); verdict != Valid {
		t.Fatal("fresh key should verify")
	}

	now = now.Add(2 * time.Minute)
	if verdict, _ := m.Verify(ctx, gen.Token); verdict != Expired {
		t.Error("expired key should report Expired")
	}

	// Clearing the expiry restores the key.
	if _, err := m.SetExpiration(ctx, gen.ID, 0); err != nil {
		t.Fatal(err)
	}
	if verdict, _ := m.Verify(ctx, gen.Token); verdict != Valid {
		t.Error("key with cleared expiry should verify")
	}

	if n, err := m.DeleteExpired(ctx); err != nil || n != 0 {
		t.Errorf("DeleteExpired = %d, %v", n, err)
	}
}

func TestIssuancePolicy(t *testing.T) {
	ctx := context.Background()

	strict := newTestManager(Policy{RequireExpiration: true})
	if _, err := strict.Generate(ctx, GenerateInput{}); err == nil {
		t.Error("expected error without TTL under RequireExpiration")
	}
	if _, err := strict.Generate(ctx, GenerateInput{TTLSeconds: 60}); err != nil {
		t.Errorf("TTL creation failed: %v", err)
	}

	defaulted := newTestManager(Policy{RequireExpiration: true, DefaultTTL: time.Hour})
	gen, err := defaulted.Generate(ctx, GenerateInput{})
	if err != nil {
		t.Fatal(err)
	}
	if gen.ExpiresAt == 0 {
		t.Error("default TTL not applied")
	}

	open := newTestManager(Policy{RequireExpiration: true, AllowNoExpiration: true})
	gen, err = open.Generate(ctx, GenerateInput{})
	if err != nil {
		t.Fatal(err)
	}
	if gen.ExpiresAt != 0 {
		t.Error("AllowNoExpiration should permit non-expiring keys")
	}

	// expires_at wins over ttl_seconds.
	m := newTestManager(Policy{})
	at := time.Now().Add(30 * time.Minute).Unix()
	gen, err = m.Generate(ctx, GenerateInput{TTLSeconds: 10, ExpiresAt: at})
	if err != nil {
		t.Fatal(err)
	}
	if gen.ExpiresAt != at {
		t.Errorf("expires_at = %d, want %d", gen.ExpiresAt, at)
	}

	if _, err := m.Generate(ctx, GenerateInput{ExpiresAt: time.Now().Add(-time.Minute).Unix()}); err == nil {
		t.Error("past expires_at accepted")
	}
}

func TestListMetadataOnly(t *testing.T) {
	m := newTestManager(Policy{})
	ctx := context.Background()
	m.Generate(ctx, GenerateInput{Label: "a", TTLSeconds: 60})
	m.Generate(ctx, GenerateInput{Label: "b", TTLSeconds: 60})

	metas, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("list = %d", len(metas))
	}
}
