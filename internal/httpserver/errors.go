package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/kvstore"
	cartsvc "storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	"storefront/internal/service/identity"
)

type errorResponse struct {
	Error string `json:"error"`
}

type deniedResponse struct {
	Error      string             `json:"error"`
	RedirectTo domain.Destination `json:"redirectTo"`
}

// statusFor maps service errors to a status code and the message to show. ok is false
// for errors that must not leak to the client.
func statusFor(err error) (status int, msg string, ok bool) {
	var verr *domain.ValidationError
	var addErr *cartsvc.AddError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message, true
	case errors.Is(err, identity.ErrEmailNotVerified):
		return http.StatusForbidden, err.Error(), true
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, err.Error(), true
	case errors.Is(err, identity.ErrEmailInUse),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, err.Error(), true
	case errors.Is(err, identity.ErrInvalidCode),
		errors.Is(err, identity.ErrEmailRequired),
		errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, checkout.ErrInvalidTransition):
		return http.StatusConflict, err.Error(), true
	case errors.Is(err, kvstore.ErrInvalidPath):
		return http.StatusBadRequest, "invalid identifier", true
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "the resource could not be found", true
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, err.Error(), true
	case errors.As(err, &addErr):
		return http.StatusInternalServerError, addErr.Error(), true
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), false
}

// writeError logs err and writes its JSON error response.
func (a *api) writeError(c *gin.Context, err error) {
	status, msg, known := statusFor(err)
	entry := a.logger.WithFields(logrus.Fields{
		"req_id": c.GetString(ctxRequestID),
		"status": status,
		"error":  err,
	})
	if known && status < http.StatusInternalServerError {
		entry.Debug("request rejected")
	} else {
		entry.Error("request failed")
	}
	c.JSON(status, errorResponse{Error: msg})
}

func (a *api) badRequest(c *gin.Context, err error) {
	a.writeError(c, domain.Invalid("invalid request body: "+err.Error()))
}
