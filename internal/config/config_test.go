package config

import "testing"

func TestNormalizeFillsZeroFields(t *testing.T) {
	var p Params
	got := p.Normalize()
	want := Defaults()
	if got != want {
		t.Fatalf("expected a zero-valued Params to normalize to Defaults, got %+v want %+v", got, want)
	}
}

func TestNormalizePreservesSetFields(t *testing.T) {
	p := Params{PurgeAge: 5}
	got := p.Normalize()
	if got.PurgeAge != 5 {
		t.Fatalf("expected an explicitly set field to survive normalization, got %v", got.PurgeAge)
	}
	if got.CheckTTLInterval != Defaults().CheckTTLInterval {
		t.Fatalf("expected an unset field to take its default")
	}
}

func TestMaxBytes(t *testing.T) {
	p := Defaults()
	got := p.MaxBytes(1000)
	want := int(1000 * p.ResponseSizeBudgetFraction)
	if got != want {
		t.Fatalf("MaxBytes(1000) = %d, want %d", got, want)
	}
}
