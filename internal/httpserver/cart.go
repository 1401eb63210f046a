package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/service/checkout"
)

type addToCartRequest struct {
	ProductID string `json:"productId"`
}

type cartResponse struct {
	Entries []domain.CartEntry `json:"entries"`
	Total   string             `json:"total"`
}

func newCartResponse(entries []domain.CartEntry) cartResponse {
	return cartResponse{Entries: entries, Total: checkout.FormatAmount(checkout.Total(entries))}
}

func (a *api) listCart(c *gin.Context) {
	entries, err := a.deps.Cart.List(c.Request.Context(), currentSession(c).User.ID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(entries))
}

func (a *api) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if req.ProductID == "" {
		a.writeError(c, domain.Invalid("productId is required"))
		return
	}
	res, err := a.deps.Cart.AddByProductID(c.Request.Context(), currentSession(c).User.ID, req.ProductID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (a *api) removeFromCart(c *gin.Context) {
	msg, err := a.deps.Cart.Remove(c.Request.Context(), currentSession(c).User.ID, c.Param("entryId"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msg})
}
