package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	"storefront/internal/service/account"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type resetCodeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type signUpResponse struct {
	User    domain.User `json:"user"`
	Message string      `json:"message"`
}

func (a *api) signUp(c *gin.Context) {
	var req account.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	user, err := a.deps.Accounts.SignUp(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, signUpResponse{User: *user, Message: account.SignUpMessage})
}

func (a *api) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	res, err := a.deps.Accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) signOut(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.Status(http.StatusNoContent)
		return
	}
	if err := a.deps.Accounts.SignOut(c.Request.Context(), token); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// verifyEmail accepts the code from the emailed link's query string or from a JSON body.
func (a *api) verifyEmail(c *gin.Context) {
	code := c.Query("code")
	if code == "" && c.Request.Method == http.MethodPost {
		var req struct {
			Code string `json:"code"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			a.badRequest(c, err)
			return
		}
		code = req.Code
	}
	user, err := a.deps.Accounts.VerifyEmail(c.Request.Context(), code)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "message": "Email verified. You can now sign in."})
}

func (a *api) requestPasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	msg, err := a.deps.Accounts.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msg})
}

// checkPasswordReset is the target of the mailed reset link. It checks the code and hands
// it back for the new-password form, which posts to the same path.
func (a *api) checkPasswordReset(c *gin.Context) {
	code := c.Query("code")
	msg, err := a.deps.Accounts.CheckPasswordResetCode(c.Request.Context(), code)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resetCodeResponse{Code: code, Message: msg})
}

func (a *api) confirmPasswordReset(c *gin.Context) {
	var req confirmResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if err := a.deps.Accounts.ConfirmPasswordReset(c.Request.Context(), req.Code, req.NewPassword); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Your password has been reset. Please sign in."})
}
