package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenSlotID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func TestTokenIssuer_IssueVerify(t *testing.T) {
	issuer, err := newTokenIssuer("secret")
	if err != nil {
		t.Fatalf("newTokenIssuer: %v", err)
	}

	now := time.Now()
	token, err := issuer.Issue(tokenSlotID, now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := issuer.Verify(token, tokenSlotID); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := issuer.Verify(token, "7c9e6679-7425-40de-944b-e07fc1f90ae7"); err == nil {
		t.Error("токен другого слота должен отклоняться")
	}
	if err := issuer.Verify(token+"x", tokenSlotID); err == nil {
		t.Error("повреждённый токен должен отклоняться")
	}
}

// TestTokenIssuer_ExpiredStillVerifies проверяет, что срок проверяется
// по записи слота, а не здесь.
func TestTokenIssuer_ExpiredStillVerifies(t *testing.T) {
	issuer, _ := newTokenIssuer("secret")

	past := time.Now().Add(-time.Hour)
	token, err := issuer.Issue(tokenSlotID, past, past.Add(time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, tokenSlotID); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestTokenIssuer_OtherSecret(t *testing.T) {
	a, _ := newTokenIssuer("secret-a")
	b, _ := newTokenIssuer("secret-b")

	now := time.Now()
	token, _ := a.Issue(tokenSlotID, now, now.Add(time.Minute))
	if err := b.Verify(token, tokenSlotID); err == nil {
		t.Error("токен с чужой подписью должен отклоняться")
	}
}

// TestTokenIssuer_RandomSecret проверяет, что без секрета каждый процесс
// получает свой ключ.
func TestTokenIssuer_RandomSecret(t *testing.T) {
	a, err := newTokenIssuer("")
	if err != nil {
		t.Fatalf("newTokenIssuer: %v", err)
	}
	b, _ := newTokenIssuer("")

	now := time.Now()
	token, _ := a.Issue(tokenSlotID, now, now.Add(time.Minute))
	if err := a.Verify(token, tokenSlotID); err != nil {
		t.Errorf("Verify своим ключом: %v", err)
	}
	if err := b.Verify(token, tokenSlotID); err == nil {
		t.Error("токен другого ключа должен отклоняться")
	}
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	issuer, _ := newTokenIssuer("secret")

	claims := jwt.RegisteredClaims{Subject: tokenSlotID}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if err := issuer.Verify(token, tokenSlotID); err == nil {
		t.Error("токен без подписи должен отклоняться")
	}
}
