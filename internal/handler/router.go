package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	Sale     *SaleHandler
	Product  *ProductHandler
	Category *CategoryHandler
}

// SetupRoutes registers all routes. requireAuth guards catalog writes and
// loginThrottle wraps the login endpoint.
func SetupRoutes(router *gin.Engine, h *Handlers, requireAuth, loginThrottle gin.HandlerFunc) {
	router.GET("/health", h.Health.GetHealth)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", loginThrottle, h.Auth.Login)
	}

	// Checkout takes the buyer from the request body, like the storefront
	// cart does; it is not tied to a login session.
	sales := router.Group("/sales")
	{
		sales.POST("/preview", h.Sale.Preview)
		sales.POST("", h.Sale.Checkout)
		sales.GET("", h.Sale.ListSales)
		sales.GET("/:id", h.Sale.GetSale)
	}

	products := router.Group("/products")
	{
		products.GET("", h.Product.ListProducts)
		products.GET("/salable", h.Product.ListSalable)
		products.GET("/:id", h.Product.GetProduct)
		products.POST("", requireAuth, h.Product.CreateProduct)
		products.PUT("/:id", requireAuth, h.Product.UpdateProduct)
		products.DELETE("/:id", requireAuth, h.Product.DeleteProduct)
	}

	categories := router.Group("/categories")
	{
		categories.GET("", h.Category.ListCategories)
		categories.GET("/:id", h.Category.GetCategory)
		categories.POST("", requireAuth, h.Category.CreateCategory)
		categories.PUT("/:id", requireAuth, h.Category.UpdateCategory)
		categories.DELETE("/:id", requireAuth, h.Category.DeleteCategory)
	}
}
