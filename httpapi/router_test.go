package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/sellerhub/backend/memory"
	"github.com/fortressi/sellerhub/marketplace"
	"github.com/fortressi/sellerhub/metrics"
	"github.com/fortressi/sellerhub/saga"
	"github.com/fortressi/sellerhub/signup"
)

const testSecret = "test-jwt-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	router  *gin.Engine
	backend *memory.Backend
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := memory.New(memory.WithHashCost(4))
	m := metrics.New()
	logger := quietLogger()

	comp, err := signup.New(b, saga.NewMemoryStore[*signup.State](),
		signup.WithLogger(logger), signup.WithMetrics(m))
	require.NoError(t, err)

	router := NewRouter(Deps{
		Signup:      comp,
		Marketplace: marketplace.NewManager(marketplace.NewDatastore(b)),
		Metrics:     m,
		Logger:      logger,
		JWTSecret:   testSecret,
		SignupRate:  1000,
		SignupBurst: 1000,
	})
	return &fixture{router: router, backend: b, metrics: m}
}

func token(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSignupSuccess(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":       "a@b.co",
		"password":    "x",
		"fullName":    "A B",
		"companyName": "Acme",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["userId"])

	assert.Equal(t, 1, f.backend.IdentityCount())

	metricsRec := do(t, f.router, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, metricsRec.Body.String(), `sellerhub_signup_attempts_total{outcome="success"} 1`)
}

func TestSignupRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"bad json", "{", "Invalid request body"},
		{"missing password", map[string]string{"email": "a@b.co"}, "Email and password are required"},
		{"bad email", map[string]string{"email": "nope", "password": "x"}, "Invalid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.router, http.MethodPost, "/api/auth/signup", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Zero(t, f.backend.IdentityCount())
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"email": "a@b.co", "password": "x"}

	first := do(t, f.router, http.MethodPost, "/api/auth/signup", "", body)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(t, f.router, http.MethodPost, "/api/auth/signup", "", body)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "A user with this email address has already been registered",
		decode[map[string]string](t, second)["error"])
}

type stubSigner struct {
	err error
}

func (s stubSigner) Signup(ctx context.Context, req signup.Request) (*signup.Result, error) {
	return nil, s.err
}

func TestSignupUnexpectedError(t *testing.T) {
	router := NewRouter(Deps{Signup: stubSigner{err: errors.New("boom")}, Logger: quietLogger(), JWTSecret: testSecret})

	rec := do(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "a@b.co", "password": "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[map[string]string](t, rec)["error"])
}

func TestSignupRateLimited(t *testing.T) {
	router := NewRouter(Deps{
		Signup:      stubSigner{err: &signup.Error{Kind: signup.KindValidation, Status: http.StatusBadRequest, Message: "no"}},
		Logger:      quietLogger(),
		JWTSecret:   testSecret,
		SignupRate:  0.001,
		SignupBurst: 2,
	})

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := do(t, router, http.MethodPost, "/api/auth/signup", "", map[string]string{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func signupFrom(router http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestSignupRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	router := NewRouter(Deps{
		Signup:      stubSigner{err: &signup.Error{Kind: signup.KindValidation, Status: http.StatusBadRequest, Message: "no"}},
		Logger:      quietLogger(),
		JWTSecret:   testSecret,
		SignupRate:  0.001,
		SignupBurst: 2,
	})

	limited := 0
	for i := 0; i < 50; i++ {
		if signupFrom(router, "203.0.113.9:4000", fmt.Sprintf("10.0.0.%d", i)) == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 48, limited)
}

func TestSignupRateLimitTrustsConfiguredProxy(t *testing.T) {
	router := NewRouter(Deps{
		Signup:         stubSigner{err: &signup.Error{Kind: signup.KindValidation, Status: http.StatusBadRequest, Message: "no"}},
		Logger:         quietLogger(),
		JWTSecret:      testSecret,
		SignupRate:     0.001,
		SignupBurst:    1,
		TrustedProxies: []string{"203.0.113.0/24"},
	})

	assert.Equal(t, http.StatusBadRequest, signupFrom(router, "203.0.113.9:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusBadRequest, signupFrom(router, "203.0.113.9:4000", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, signupFrom(router, "203.0.113.9:4000", "198.51.100.1"))

	// An untrusted peer cannot pick its own client IP.
	assert.Equal(t, http.StatusBadRequest, signupFrom(router, "192.0.2.50:4000", "198.51.100.3"))
	assert.Equal(t, http.StatusTooManyRequests, signupFrom(router, "192.0.2.50:4000", "198.51.100.4"))
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, http.MethodGet, "/api/vendors", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, f.router, http.MethodGet, "/api/vendors", token(t, "other-secret", "u1"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = do(t, f.router, http.MethodGet, "/api/vendors", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, f.router, http.MethodGet, "/api/vendors", token(t, testSecret, "u1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMeAfterSignup(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.router, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "a@b.co", "password": "x", "fullName": "A B", "companyName": "Acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	userID := decode[map[string]any](t, rec)["userId"].(string)

	rec = do(t, f.router, http.MethodGet, "/api/me", token(t, testSecret, userID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	acct := decode[marketplace.Account](t, rec)
	assert.True(t, acct.IsSeller)
	assert.Equal(t, "Acme", acct.Profile.CompanyName)
	assert.Equal(t, signup.RoleSeller, acct.Profile.Role)

	rec = do(t, f.router, http.MethodGet, "/api/me", token(t, testSecret, "nobody"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVendorAndPurchaseOrderRoutes(t *testing.T) {
	f := newFixture(t)
	seller := token(t, testSecret, "s1")
	other := token(t, testSecret, "s2")

	rec := do(t, f.router, http.MethodPost, "/api/vendors", seller, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, http.MethodPost, "/api/vendors", seller, map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	vendor := decode[marketplace.Vendor](t, rec)
	assert.Equal(t, "s1", vendor.SellerID)

	rec = do(t, f.router, http.MethodGet, "/api/vendors/"+vendor.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, http.MethodPatch, "/api/vendors/"+vendor.ID, seller, map[string]string{"phone": "555-0100"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "555-0100", decode[marketplace.Vendor](t, rec).Phone)

	rec = do(t, f.router, http.MethodPost, "/api/purchase-orders", seller, map[string]any{"vendor_id": vendor.ID, "total_cents": 1500})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	po := decode[marketplace.PurchaseOrder](t, rec)
	assert.Equal(t, marketplace.StatusDraft, po.Status)

	rec = do(t, f.router, http.MethodPatch, "/api/purchase-orders/"+po.ID+"/status", seller, map[string]string{"status": "received"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, f.router, http.MethodPatch, "/api/purchase-orders/"+po.ID+"/status", seller, map[string]string{"status": "submitted"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, marketplace.StatusSubmitted, decode[marketplace.PurchaseOrder](t, rec).Status)

	rec = do(t, f.router, http.MethodGet, "/api/purchase-orders", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]marketplace.PurchaseOrder](t, rec), 1)

	rec = do(t, f.router, http.MethodDelete, "/api/vendors/"+vendor.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, http.MethodDelete, "/api/vendors/"+vendor.ID, seller, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestProductRoutes(t *testing.T) {
	f := newFixture(t)
	seller := token(t, testSecret, "s1")

	rec := do(t, f.router, http.MethodPost, "/api/products", seller, map[string]any{"name": "Widget", "price_cents": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.router, http.MethodPost, "/api/products", seller, map[string]any{"name": "Widget", "price_cents": 1299, "stock": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[marketplace.Product](t, rec)

	rec = do(t, f.router, http.MethodPatch, "/api/products/"+p.ID, seller, map[string]any{"stock": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[marketplace.Product](t, rec).Stock)

	rec = do(t, f.router, http.MethodGet, "/api/products/"+p.ID, seller, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, f.router, http.MethodDelete, "/api/products/"+p.ID, seller, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, f.router, http.MethodGet, "/api/products/"+p.ID, seller, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestMetricsUseRouteTemplate(t *testing.T) {
	f := newFixture(t)
	seller := token(t, testSecret, "s1")

	do(t, f.router, http.MethodGet, "/api/vendors/missing", seller, nil)

	rec := do(t, f.router, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, rec.Body.String(),
		`sellerhub_http_requests_total{method="GET",route="/api/vendors/:id",status="404"} 1`)
}
