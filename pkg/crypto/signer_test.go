package crypto

import (
	"errors"
	"testing"
	"time"
)

const (
	caller = "0x000000000000000000000000000000000000A0a0"
	asset  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func TestSigner_ActionRoundTrip(t *testing.T) {
	s := NewSigner("test-secret", nil)
	ts := time.Now().Unix()

	sig := s.SignAction("precision", caller, ts, asset, "6")
	ok, err := s.VerifyAction("precision", caller, ts, sig, asset, "6")

	if err != nil || !ok {
		t.Fatalf("expected valid signature, got ok=%v err=%v", ok, err)
	}
}

func TestSigner_TamperedDecimals(t *testing.T) {
	s := NewSigner("test-secret", nil)
	ts := time.Now().Unix()
	sig := s.SignAction("precision", caller, ts, asset, "6")

	_, err := s.VerifyAction("precision", caller, ts, sig, asset, "18")

	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestSigner_WrongSecret(t *testing.T) {
	ts := time.Now().Unix()
	sig := NewSigner("other-secret", nil).SignAction("precision", caller, ts, asset, "6")

	_, err := NewSigner("test-secret", nil).VerifyAction("precision", caller, ts, sig, asset, "6")

	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestSigner_ExpiredTimestamp(t *testing.T) {
	s := NewSigner("test-secret", nil)
	ts := time.Now().Add(-time.Hour).Unix()
	sig := s.SignAction("precision", caller, ts, asset, "6")

	_, err := s.VerifyAction("precision", caller, ts, sig, asset, "6")

	if !errors.Is(err, ErrExpiredSignature) {
		t.Errorf("expected ErrExpiredSignature, got %v", err)
	}
}

func TestSigner_EmptySecretRejectsEverything(t *testing.T) {
	ts := time.Now().Unix()
	forged := NewSigner("", nil).SignAction("precision", caller, ts, asset, "36")

	ok, err := NewSigner("", nil).VerifyAction("precision", caller, ts, forged, asset, "36")

	if ok || !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret, got ok=%v err=%v", ok, err)
	}
}

func TestSigner_ActionFieldsAreBound(t *testing.T) {
	s := NewSigner("test-secret", nil)
	ts := time.Now().Unix()
	sig := s.SignAction("fund", caller, ts, asset, "100")

	if ok, err := s.VerifyAction("fund", caller, ts, sig, asset, "100"); !ok || err != nil {
		t.Fatalf("expected valid signature, got ok=%v err=%v", ok, err)
	}
	if _, err := s.VerifyAction("fund", caller, ts, sig, asset, "1000"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for changed field, got %v", err)
	}
	if _, err := s.VerifyAction("price", caller, ts, sig, asset, "100"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for changed action, got %v", err)
	}
}
