// Package httpapi exposes sellerhub over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/marketplace"
	"github.com/fortressi/sellerhub/metrics"
	"github.com/fortressi/sellerhub/signup"
)

// Signer runs a seller signup.
type Signer interface {
	Signup(ctx context.Context, req signup.Request) (*signup.Result, error)
}

// Deps holds what the router needs.
type Deps struct {
	Signup      Signer
	Marketplace *marketplace.Manager
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger

	// JWTSecret verifies the HS256 access tokens issued by the identity
	// service.
	JWTSecret string

	SignupRate  float64
	SignupBurst int

	// TrustedProxies are the peers whose X-Forwarded-For names the client.
	// When empty the peer address is the client IP.
	TrustedProxies []string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Logger.WithError(err).Error("invalid trusted proxies; trusting none")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger(d.Logger))
	router.Use(requestMetrics(d.Metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// ----------------------------
	// Public Routes
	// ----------------------------

	limiter := newIPLimiter(d.SignupRate, d.SignupBurst)
	router.POST("/api/auth/signup", limiter.middleware(), signupHandler(d.Signup, d.Logger))

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(requireAuth(d.JWTSecret))

	h := &marketHandler{m: d.Marketplace, logger: d.Logger}

	api.GET("/me", h.me)

	vendors := api.Group("/vendors")
	vendors.GET("", h.listVendors)
	vendors.POST("", h.createVendor)
	vendors.GET("/:id", h.getVendor)
	vendors.PATCH("/:id", h.updateVendor)
	vendors.DELETE("/:id", h.deleteVendor)

	products := api.Group("/products")
	products.GET("", h.listProducts)
	products.POST("", h.createProduct)
	products.GET("/:id", h.getProduct)
	products.PATCH("/:id", h.updateProduct)
	products.DELETE("/:id", h.deleteProduct)

	orders := api.Group("/purchase-orders")
	orders.GET("", h.listPurchaseOrders)
	orders.POST("", h.createPurchaseOrder)
	orders.GET("/:id", h.getPurchaseOrder)
	orders.PATCH("/:id", h.updatePurchaseOrder)
	orders.PATCH("/:id/status", h.updatePurchaseOrderStatus)
	orders.DELETE("/:id", h.deletePurchaseOrder)

	return router
}
