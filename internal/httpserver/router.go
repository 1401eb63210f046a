package httpserver

import (
	"context"
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
	"storefront/internal/logging"
	"storefront/internal/ratelimit"
	"storefront/internal/service/account"
	cartsvc "storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	productsvc "storefront/internal/service/product"
	"storefront/internal/session"
)

type AccountService interface {
	SignUp(ctx context.Context, in account.SignupInput) (*domain.User, error)
	SignIn(ctx context.Context, email, password string) (*account.SignInResult, error)
	SignOut(ctx context.Context, token string) error
	VerifyEmail(ctx context.Context, code string) (*domain.User, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	CheckPasswordResetCode(ctx context.Context, code string) (string, error)
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
}

type SessionGuard interface {
	Check(ctx context.Context, token string) (session.Context, session.Decision, error)
	Watch(token string, fn func(session.Decision)) (stop func())
}

type ProductService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
	Watch() (*live.Collection[domain.Product], error)
	Create(ctx context.Context, in productsvc.CreateInput) (*domain.Product, error)
	Delete(ctx context.Context, id string) error
}

type CartService interface {
	AddByProductID(ctx context.Context, userID, productID string) (*cartsvc.AddResult, error)
	Remove(ctx context.Context, userID, entryID string) (string, error)
	List(ctx context.Context, userID string) ([]domain.CartEntry, error)
	Watch(userID string) (*live.Collection[domain.CartEntry], error)
}

type CheckoutService interface {
	Start(ctx context.Context, userID string, entryIDs []string) (*checkout.Flow, error)
	Get(userID, flowID string) (*checkout.Flow, error)
}

// Deps are the services the router dispatches to.
type Deps struct {
	Accounts AccountService
	Guard    SessionGuard
	Products ProductService
	Cart     CartService
	Checkout CheckoutService

	// AuthLimiter throttles sign-up, sign-in and reset requests per client IP. Nil disables it.
	AuthLimiter *ratelimit.Limiter
	CORSOrigins []string
	DB          Pinger
}

func (d Deps) validate() error {
	switch {
	case d.Accounts == nil:
		return errors.New("httpserver: account service required")
	case d.Guard == nil:
		return errors.New("httpserver: session guard required")
	case d.Products == nil:
		return errors.New("httpserver: product service required")
	case d.Cart == nil:
		return errors.New("httpserver: cart service required")
	case d.Checkout == nil:
		return errors.New("httpserver: checkout service required")
	}
	return nil
}

type api struct {
	deps    Deps
	logger  logrus.FieldLogger
	closing <-chan struct{}
}

// buildRouter wires routes for the API. Open streams end when closing is closed.
func buildRouter(logger logrus.FieldLogger, deps Deps, closing <-chan struct{}) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDiscard(logger)
	a := &api{deps: deps, logger: logger, closing: closing}

	router := gin.New()
	router.Use(requestID(), requestLogger(logger), gin.Recovery(), cors.New(corsConfig(deps.CORSOrigins)))

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.DB))

	auth := router.Group("/auth")
	limited := auth.Group("", rateLimit(deps.AuthLimiter))
	limited.POST("/signup", a.signUp)
	limited.POST("/signin", a.signIn)
	limited.POST("/password-reset", a.requestPasswordReset)
	auth.POST("/signout", a.signOut)
	auth.GET("/verify", a.verifyEmail)
	auth.POST("/verify", a.verifyEmail)
	auth.GET("/password-reset/confirm", a.checkPasswordReset)
	auth.POST("/password-reset/confirm", a.confirmPasswordReset)

	router.GET("/products", a.listProducts)
	router.GET("/products/:id", a.getProduct)
	router.GET("/stream/products", a.streamProducts)

	admin := router.Group("/admin", a.requireSession, requireAdmin)
	admin.POST("/products", a.createProduct)
	admin.DELETE("/products/:id", a.deleteProduct)

	me := router.Group("/me", a.requireSession)
	me.GET("/cart", a.listCart)
	me.POST("/cart", a.addToCart)
	me.DELETE("/cart/:entryId", a.removeFromCart)
	me.GET("/stream/cart", a.streamCart)
	me.POST("/checkout", a.startCheckout)

	flow := me.Group("/checkout/:flowId", checkFlowID)
	flow.GET("", a.getCheckout)
	flow.POST("/place", a.placeOrder)
	flow.POST("/acknowledge", a.acknowledgeOrder)
	flow.POST("/cancel", a.cancelCheckout)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}
