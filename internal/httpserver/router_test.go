package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
	"storefront/internal/ratelimit"
	accountrepo "storefront/internal/repository/account"
	cartrepo "storefront/internal/repository/cart"
	productrepo "storefront/internal/repository/product"
	profilerepo "storefront/internal/repository/profile"
	tokenrepo "storefront/internal/repository/token"
	"storefront/internal/service/account"
	cartsvc "storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	"storefront/internal/service/identity"
	productsvc "storefront/internal/service/product"
	"storefront/internal/session"
)

type codeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	links map[string]string
}

func (m *codeMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[to] = body[strings.Index(body, "code=")+len("code="):]
	m.links[to] = strings.TrimSpace(body[strings.LastIndex(body, "\n")+1:])
	return nil
}

func (m *codeMailer) link(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[to]
}

func (m *codeMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type testEnv struct {
	router   *gin.Engine
	mailer   *codeMailer
	profiles profilerepo.Repository
	products productrepo.Repository
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := kvstore.NewMemory(nil)
	mailer := &codeMailer{codes: make(map[string]string), links: make(map[string]string)}
	idp := identity.New(accountrepo.NewMemory(), tokenrepo.NewMemory(), identity.Options{
		SigningKey: []byte("test-key"),
		Mailer:     mailer,
	})
	profiles := profilerepo.NewKV(store)
	products := productrepo.NewKV(store, nil)
	carts := cartrepo.NewKV(store, nil)
	checkouts := checkout.New(carts, time.Hour, time.Hour, nil)
	t.Cleanup(checkouts.Close)

	router, err := buildRouter(nil, Deps{
		Accounts:    account.New(idp, profiles, nil),
		Guard:       session.NewGuard(idp, profiles, nil),
		Products:    productsvc.New(products, nil),
		Cart:        cartsvc.New(carts, products, nil),
		Checkout:    checkouts,
		AuthLimiter: limiter,
	}, nil)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return &testEnv{router: router, mailer: mailer, profiles: profiles, products: products}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func signupBody(email string) string {
	return `{"name":"Ada Lovelace","phone":"09171234567","email":"` + email +
		`","password":"secret1","confirmPassword":"secret1"}`
}

// signedIn registers and verifies email and returns a session token.
func (e *testEnv) signedIn(t *testing.T, email string, role domain.Role) string {
	t.Helper()
	if rec := e.do(http.MethodPost, "/auth/signup", "", signupBody(email)); rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(http.MethodGet, "/auth/verify?code="+e.mailer.code(email), "", ""); rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}
	rec := e.do(http.MethodPost, "/auth/signin", "", `{"email":"`+email+`","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin: %d %s", rec.Code, rec.Body.String())
	}
	res := decode[account.SignInResult](t, rec)
	if role == domain.RoleAdmin {
		if err := e.profiles.SetRole(context.Background(), res.Session.User.ID, role); err != nil {
			t.Fatalf("set role: %v", err)
		}
	}
	return res.Session.Token
}

func (e *testEnv) seedProduct(t *testing.T, id, name, price string) {
	t.Helper()
	_, err := e.products.Create(context.Background(), domain.Product{
		ID:       id,
		Name:     name,
		Category: domain.CategorySmartphone,
		Price:    decimal.RequireFromString(price),
		Stock:    5,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

type errorBody struct {
	Error      string `json:"error"`
	RedirectTo string `json:"redirectTo"`
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
}

func TestBuildRouter_MissingDeps(t *testing.T) {
	if _, err := buildRouter(nil, Deps{}, nil); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestSignInRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPost, "/auth/signup", "", signupBody("ada@example.com"))

	rec := env.do(http.MethodPost, "/auth/signin", "", `{"email":"ada@example.com","password":"secret1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[errorBody](t, rec).Error; got != account.ErrVerifyEmailFirst.Error() {
		t.Fatalf("unexpected message %q", got)
	}

	env.do(http.MethodGet, "/auth/verify?code="+env.mailer.code("ada@example.com"), "", "")
	rec = env.do(http.MethodPost, "/auth/signin", "", `{"email":"ada@example.com","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	res := decode[account.SignInResult](t, rec)
	if res.Destination != domain.DestinationUserDashboard || res.Message != account.SignInMessage {
		t.Fatalf("unexpected sign-in result %+v", res)
	}
}

func TestSignUpValidationAndConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/auth/signup", "", `{"name":"A","phone":"1","email":"x","password":"p","confirmPassword":"p"}`)
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "Please enter a valid full name." {
		t.Fatalf("expected name validation error, got %d %s", rec.Code, rec.Body.String())
	}
	env.do(http.MethodPost, "/auth/signup", "", signupBody("dup@example.com"))
	if rec := env.do(http.MethodPost, "/auth/signup", "", signupBody("dup@example.com")); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGuardedRoutesWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/me/cart", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.RedirectTo != string(domain.DestinationSignIn) {
		t.Fatalf("expected redirect to sign-in, got %+v", body)
	}
}

func TestSignOutEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t, "ada@example.com", domain.RoleUser)
	if rec := env.do(http.MethodGet, "/me/cart", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before sign-out, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/auth/signout", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("signout: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/me/cart", token, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign-out, got %d", rec.Code)
	}
}

func TestCartAddMergesAndRemoves(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t, "ada@example.com", domain.RoleUser)
	env.seedProduct(t, "p1", "Pixel", "499.50")

	rec := env.do(http.MethodPost, "/me/cart", token, `{"productId":"p1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first add: %d %s", rec.Code, rec.Body.String())
	}
	first := decode[cartsvc.AddResult](t, rec)
	if first.Message != `"Pixel" has been added to your cart.` {
		t.Fatalf("unexpected message %q", first.Message)
	}

	rec = env.do(http.MethodPost, "/me/cart", token, `{"productId":"p1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second add: %d %s", rec.Code, rec.Body.String())
	}
	if second := decode[cartsvc.AddResult](t, rec); !second.Merged || second.Entry.Quantity != 2 {
		t.Fatalf("expected merge to quantity 2, got %+v", second)
	}

	rec = env.do(http.MethodGet, "/me/cart", token, "")
	cart := decode[cartResponse](t, rec)
	if len(cart.Entries) != 1 || cart.Total != "₱999.00" {
		t.Fatalf("unexpected cart %+v", cart)
	}

	if rec := env.do(http.MethodPost, "/me/cart", token, `{"productId":"missing"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/me/cart", token, `{"productId":"a.b"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a malformed product id, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodGet, "/products/a.b", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 reading a malformed product id, got %d", rec.Code)
	}
	rec = env.do(http.MethodDelete, "/me/cart/no.such", token, "")
	if rec.Code != http.StatusOK || decode[messageResponse](t, rec).Message != cartsvc.RemovedMessage {
		t.Fatalf("removing an unknown entry id must succeed, got %d %s", rec.Code, rec.Body.String())
	}
	if cart := decode[cartResponse](t, env.do(http.MethodGet, "/me/cart", token, "")); len(cart.Entries) != 1 {
		t.Fatalf("cart must be unchanged, got %+v", cart)
	}

	rec = env.do(http.MethodDelete, "/me/cart/"+first.Entry.ID, token, "")
	if rec.Code != http.StatusOK || decode[messageResponse](t, rec).Message != cartsvc.RemovedMessage {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body.String())
	}
	if cart := decode[cartResponse](t, env.do(http.MethodGet, "/me/cart", token, "")); len(cart.Entries) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestAdminProductsRequireAdminRole(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.signedIn(t, "user@example.com", domain.RoleUser)
	admin := env.signedIn(t, "admin@example.com", domain.RoleAdmin)
	body := `{"productName":"iPad","category":"Tablet","price":"599.99","quantity":"3","imageUrl":"https://img.example/ipad.png"}`

	if rec := env.do(http.MethodPost, "/admin/products", user, body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/admin/products", admin, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d %s", rec.Code, rec.Body.String())
	}
	created := decode[struct {
		Product domain.Product `json:"product"`
	}](t, rec)

	rec = env.do(http.MethodGet, "/products/"+created.Product.ID, "", "")
	if rec.Code != http.StatusOK || decode[domain.Product](t, rec).Name != "iPad" {
		t.Fatalf("get product: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/admin/products", admin, `{"productName":"iPad","category":"Tablet","price":"abc","quantity":"3","imageUrl":"https://x.example/a.png"}`)
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "Please enter a valid price." {
		t.Fatalf("expected price validation, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodDelete, "/admin/products/"+created.Product.ID, admin, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/products/"+created.Product.ID, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t, "ada@example.com", domain.RoleUser)
	env.seedProduct(t, "p1", "Pixel", "100")
	env.seedProduct(t, "p2", "Galaxy", "250")
	a := decode[cartsvc.AddResult](t, env.do(http.MethodPost, "/me/cart", token, `{"productId":"p1"}`))
	env.do(http.MethodPost, "/me/cart", token, `{"productId":"p1"}`)
	env.do(http.MethodPost, "/me/cart", token, `{"productId":"p2"}`)

	rec := env.do(http.MethodPost, "/me/checkout", token, `{"entryIds":[]}`)
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "Please select at least one item to checkout." {
		t.Fatalf("expected empty selection error, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/me/checkout", token, `{"entryIds":["`+a.Entry.ID+`"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	view := decode[checkout.View](t, rec)
	if view.State != checkout.StateForm || !view.Total.Equal(decimal.NewFromInt(200)) || view.Draft.Payment != checkout.PaymentCOD {
		t.Fatalf("unexpected flow %+v", view)
	}
	flowPath := "/me/checkout/" + view.ID

	rec = env.do(http.MethodPost, flowPath+"/place", token, `{"fullname":"Ada","address":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing address, got %d", rec.Code)
	}
	rejected := decode[struct {
		Error string        `json:"error"`
		Flow  checkout.View `json:"flow"`
	}](t, rec)
	if rejected.Error != "Please fill in all required fields." || rejected.Flow.Draft.Fullname != "Ada" || rejected.Flow.State != checkout.StateForm {
		t.Fatalf("unexpected rejection %+v", rejected)
	}

	rec = env.do(http.MethodPost, flowPath+"/place", token, `{"fullname":"Ada","address":"1 Main St"}`)
	if rec.Code != http.StatusOK || decode[checkout.View](t, rec).State != checkout.StateConfirmed {
		t.Fatalf("place: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, flowPath+"/acknowledge", token, "")
	done := decode[checkout.View](t, rec)
	if done.State != checkout.StateRedirected || done.Destination != domain.DestinationUserDashboard {
		t.Fatalf("unexpected acknowledged flow %+v", done)
	}

	if rec := env.do(http.MethodPost, flowPath+"/cancel", token, ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a finished flow, got %d", rec.Code)
	}
}

func TestCheckoutFlowScoping(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.signedIn(t, "owner@example.com", domain.RoleUser)
	other := env.signedIn(t, "other@example.com", domain.RoleUser)
	env.seedProduct(t, "p1", "Pixel", "100")
	entry := decode[cartsvc.AddResult](t, env.do(http.MethodPost, "/me/cart", owner, `{"productId":"p1"}`))
	view := decode[checkout.View](t, env.do(http.MethodPost, "/me/checkout", owner, `{"entryIds":["`+entry.Entry.ID+`"]}`))

	if rec := env.do(http.MethodGet, "/me/checkout/"+view.ID, other, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's flow, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/me/checkout/not-a-uuid", owner, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/me/checkout/"+view.ID+"/cancel", owner, "")
	if cancelled := decode[checkout.View](t, rec); cancelled.State != checkout.StateCancelled || cancelled.Destination != domain.DestinationCart {
		t.Fatalf("unexpected cancelled flow %+v", cancelled)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	old := env.signedIn(t, "ada@example.com", domain.RoleUser)

	rec := env.do(http.MethodPost, "/auth/password-reset", "", `{"email":"ada@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("request reset: %d %s", rec.Code, rec.Body.String())
	}
	code := env.mailer.code("ada@example.com")

	link := env.mailer.link("ada@example.com")
	if !strings.HasPrefix(link, "/auth/password-reset/confirm?code=") {
		t.Fatalf("unexpected reset link %q", link)
	}
	rec = env.do(http.MethodGet, link, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("open reset link: %d %s", rec.Code, rec.Body.String())
	}
	opened := decode[resetCodeResponse](t, rec)
	if opened.Code != code || opened.Message != "Enter a new password for ada@example.com." {
		t.Fatalf("unexpected reset link response %+v", opened)
	}
	if rec := env.do(http.MethodGet, "/auth/password-reset/confirm?code=garbage", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad code, got %d", rec.Code)
	}

	if rec := env.do(http.MethodPost, "/auth/password-reset/confirm", "", `{"code":"`+code+`","newPassword":"123"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/auth/password-reset/confirm", "", `{"code":"`+code+`","newPassword":"newsecret"}`); rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/auth/password-reset/confirm", "", `{"code":"`+code+`","newPassword":"another1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected reused code to fail, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, link, "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected used link to be rejected, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/me/cart", old, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old session to end, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/auth/signin", "", `{"email":"ada@example.com","password":"newsecret"}`); rec.Code != http.StatusOK {
		t.Fatalf("sign in with new password: %d", rec.Code)
	}
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, ratelimit.PerMinute(1, 1, time.Minute))
	body := `{"email":"nobody@example.com","password":"wrong"}`
	if rec := env.do(http.MethodPost, "/auth/signin", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 first, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/auth/signin", "", body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if got := env.do(http.MethodGet, "/healthz", "", "").Header().Get(requestIDHeader); got == "" {
		t.Fatalf("expected generated request id")
	}
}
