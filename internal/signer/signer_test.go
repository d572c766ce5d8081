package signer

import (
	"path/filepath"
	"testing"

	"github.com/duskledger/p2pstore/internal/hashkey"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	digest := hashkey.Hash32([]byte("payload"))
	sig, err := Sign(kp.Private, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(kp.Public, digest, sig) {
		t.Fatalf("expected signature to verify under its own public key")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := Generate()
	kp2, _ := Generate()
	digest := hashkey.Hash32([]byte("payload"))
	sig, _ := Sign(kp1.Private, digest)
	if Verify(kp2.Public, digest, sig) {
		t.Fatalf("expected signature to fail verification under an unrelated key")
	}
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	kp, _ := Generate()
	digest := hashkey.Hash32([]byte("payload"))
	sig, _ := Sign(kp.Private, digest)
	other := hashkey.Hash32([]byte("different payload"))
	if Verify(kp.Public, other, sig) {
		t.Fatalf("expected signature to fail verification over a different digest")
	}
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	digest := hashkey.Hash32([]byte("payload"))
	if Verify(PublicKey{1, 2, 3}, digest, []byte("not a real signature")) {
		t.Fatalf("expected Verify to reject a malformed public key")
	}
}

func TestPublicKeyValid(t *testing.T) {
	kp, _ := Generate()
	if !kp.Public.Valid() {
		t.Fatalf("expected a freshly generated public key to be valid")
	}
	var zero PublicKey = make([]byte, len(kp.Public))
	if zero.Valid() {
		t.Fatalf("expected an all-zero key to be invalid")
	}
	if (PublicKey{1, 2, 3}).Valid() {
		t.Fatalf("expected a short key to be invalid")
	}
}

func TestPublicKeyEqual(t *testing.T) {
	kp, _ := Generate()
	other := append(PublicKey{}, kp.Public...)
	if !kp.Public.Equal(other) {
		t.Fatalf("expected equal byte slices to compare equal")
	}
	kp2, _ := Generate()
	if kp.Public.Equal(kp2.Public) {
		t.Fatalf("expected distinct keys to compare unequal")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, _ := Generate()
	if err := Save(dir, kp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !kp.Public.Equal(got.Public) {
		t.Fatalf("expected loaded public key to match saved public key")
	}
}

func TestLoadOrGenerateCreatesThenReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	first, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate (create): %v", err)
	}
	second, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate (reuse): %v", err)
	}
	if !first.Public.Equal(second.Public) {
		t.Fatalf("expected LoadOrGenerate to reuse the persisted keypair on a second call")
	}
}
