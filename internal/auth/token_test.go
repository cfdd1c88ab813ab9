package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_SignAndVerify(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Sign(Actor{UID: "0x2a", Name: "ana", Role: RoleReviewer}, time.Hour)
	require.NoError(t, err)

	a, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "0x2a", a.UID)
	assert.Equal(t, "ana", a.Name)
	assert.Equal(t, RoleReviewer, a.Role)
}

func TestVerifier_RejectsForeignSecret(t *testing.T) {
	token, err := NewVerifier("one").Sign(Actor{UID: "0x1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("two").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RejectsExpired(t *testing.T) {
	v := NewVerifier("s3cret")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Sign(Actor{UID: "0x1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("s3cret").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := v.Sign(Actor{UID: "0x7", Role: RoleContributor}, time.Hour)
	require.NoError(t, err)

	var seen Actor
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, seen.IsAnonymous())
		assert.Equal(t, "192.0.2.1", seen.IP)
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "0x7", seen.UID)
		assert.True(t, seen.Can(RoleContributor))
		assert.False(t, seen.Can(RoleReviewer))
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequire(t *testing.T) {
	h := Require(RoleReviewer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name  string
		actor Actor
		want  int
	}{
		{"anonymous", Actor{}, http.StatusUnauthorized},
		{"contributor", Actor{UID: "0x1", Role: RoleContributor}, http.StatusForbidden},
		{"reviewer", Actor{UID: "0x1", Role: RoleReviewer}, http.StatusNoContent},
		{"admin", Actor{UID: "0x1", Role: RoleAdmin}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithActor(req.Context(), tc.actor))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Reviewer")
	require.NoError(t, err)
	assert.Equal(t, RoleReviewer, r)

	r, err = ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleAnonymous, r)

	_, err = ParseRole("overlord")
	assert.Error(t, err)
}
