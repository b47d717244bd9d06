package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := New("test-secret", time.Hour)
	actor := types.Actor{ID: uuid.New(), Type: types.ActorService}

	signed, expiresAt, err := svc.IssueToken(actor)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) < 30*time.Minute {
		t.Errorf("expiry too soon: %v", expiresAt)
	}

	claims, err := svc.ValidateToken(signed)
	if err != nil {
		t.Fatal(err)
	}
	got, err := claims.Actor()
	if err != nil {
		t.Fatal(err)
	}
	if got != actor {
		t.Errorf("actor = %+v, want %+v", got, actor)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := New("secret-a", time.Hour)
	verifier := New("secret-b", time.Hour)

	signed, _, err := issuer.IssueToken(types.Actor{ID: uuid.New(), Type: types.ActorUser})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateToken(signed); err != ErrInvalidToken {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := New("test-secret", -time.Minute)
	signed, _, err := svc.IssueToken(types.Actor{ID: uuid.New(), Type: types.ActorUser})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(signed); err != ErrInvalidToken {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := New("test-secret", time.Hour)
	if _, err := svc.ValidateToken("not-a-token"); err != ErrInvalidToken {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestClaimsActorUnknownTypeDefaultsToUser(t *testing.T) {
	c := &Claims{ActorID: uuid.New().String(), ActorType: "alien"}
	a, err := c.Actor()
	if err != nil {
		t.Fatal(err)
	}
	if a.Type != types.ActorUser {
		t.Errorf("type = %q", a.Type)
	}
}
