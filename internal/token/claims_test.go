package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crewdesk.app/internal/session"
)

// mintToken signs a test token the way the identity provider would.
func mintToken(t *testing.T, sub, role string, issued, expires time.Time) string {
	t.Helper()
	claims := Claims{
		Role:  role,
		Email: sub + "@crewdesk.app",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestDecode(t *testing.T) {
	t.Parallel()

	issued := time.Now().Truncate(time.Second)
	expires := issued.Add(time.Hour)
	raw := mintToken(t, "user-42", "manager", issued, expires)

	claims, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.UserRole() != session.RoleManager {
		t.Fatalf("unexpected role: %s", claims.UserRole())
	}
	if !claims.Expiry().Equal(expires) {
		t.Fatalf("expiry = %v, want %v", claims.Expiry(), expires)
	}
	if claims.ExpiryMillis() != expires.UnixMilli() {
		t.Fatalf("expiry millis = %d, want %d", claims.ExpiryMillis(), expires.UnixMilli())
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"garbage", "not-a-token"},
		{"two segments", "abc.def"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.raw); err == nil {
				t.Fatalf("Decode(%q) accepted malformed token", tc.raw)
			}
		})
	}
}

func TestDecodeRequiresSubjectAndExpiry(t *testing.T) {
	t.Parallel()

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := noSub.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("token without subject accepted")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"})
	raw, err = noExp.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("token without expiry accepted")
	}
}

func TestExpiredAt(t *testing.T) {
	t.Parallel()

	now := time.Now()
	raw := mintToken(t, "user-1", "employee", now.Add(-2*time.Hour), now.Add(-time.Hour))
	claims, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !claims.ExpiredAt(now) {
		t.Fatal("stale token not reported expired")
	}
	if claims.ExpiredAt(now.Add(-90 * time.Minute)) {
		t.Fatal("live token reported expired")
	}
}
