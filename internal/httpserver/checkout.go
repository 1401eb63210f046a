package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/service/checkout"
)

type startCheckoutRequest struct {
	EntryIDs []string `json:"entryIds"`
}

type placeOrderRequest struct {
	Fullname string `json:"fullname"`
	Address  string `json:"address"`
}

func (a *api) startCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	flow, err := a.deps.Checkout.Start(c.Request.Context(), currentSession(c).User.ID, req.EntryIDs)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, flow.View())
}

// flow resolves the :flowId of the signed-in user, writing the error response on failure.
func (a *api) flow(c *gin.Context) (*checkout.Flow, bool) {
	f, err := a.deps.Checkout.Get(currentSession(c).User.ID, c.Param("flowId"))
	if err != nil {
		a.writeError(c, err)
		return nil, false
	}
	return f, true
}

func (a *api) getCheckout(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, f.View())
}

// placeOrder confirms the order. A rejected form is answered with the message and the
// flow as it stands, so the client keeps what was typed.
func (a *api) placeOrder(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if err := f.Place(req.Fullname, req.Address); err != nil {
		status, msg, _ := statusFor(err)
		c.JSON(status, gin.H{"error": msg, "flow": f.View()})
		return
	}
	c.JSON(http.StatusOK, f.View())
}

func (a *api) acknowledgeOrder(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	if err := f.Acknowledge(); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f.View())
}

func (a *api) cancelCheckout(c *gin.Context) {
	f, ok := a.flow(c)
	if !ok {
		return
	}
	if err := f.Cancel(); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f.View())
}
