package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/middleware"
	"authgate/internal/models"
	"authgate/internal/service"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Name     string `json:"name" binding:"max=200"`
}

type hashRequest struct {
	Hash string `json:"hash" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Hash     string `json:"hash" binding:"required"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type updateMeRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=200"`
	PhotoID     *string `json:"photoId"`
	Email       *string `json:"email" binding:"omitempty,email"`
	Password    *string `json:"password" binding:"omitempty,min=6,max=72"`
	OldPassword *string `json:"oldPassword"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Role      string    `json:"role,omitempty"`
	Status    string    `json:"status"`
	PhotoID   *string   `json:"photoId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenExpires int64  `json:"tokenExpires"`
}

type loginResponse struct {
	tokenResponse
	User userResponse `json:"user"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Current   bool      `json:"current"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		tokenResponse: toTokenResponse(result.TokenPair),
		User:          toUserResponse(result.User),
	})
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toUserResponse(user))
}

func (h HandlerSet) ConfirmEmail(c *gin.Context) {
	var req hashRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ConfirmEmail(c.Request.Context(), req.Hash); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ConfirmNewEmail(c *gin.Context) {
	var req hashRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ConfirmNewEmail(c.Request.Context(), req.Hash); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Hash, req.Password); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Refresh(c *gin.Context) {
	ident, ok := middleware.RefreshIdentityFrom(c)
	if !ok {
		middleware.AbortWithError(c, apperr.ErrMissingToken)
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), ident)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTokenResponse(pair))
}

func (h HandlerSet) Logout(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), ident); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	user, err := h.auth.Me(c.Request.Context(), ident)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) UpdateMe(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req updateMeRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.auth.Update(c.Request.Context(), ident, service.UpdateInput{
		Name:        req.Name,
		PhotoID:     req.PhotoID,
		Email:       req.Email,
		Password:    req.Password,
		OldPassword: req.OldPassword,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) DeleteMe(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	if err := h.auth.Delete(c.Request.Context(), ident); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}

	views, err := h.auth.ListSessions(c.Request.Context(), ident)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(views))
	for _, view := range views {
		resp = append(resp, sessionResponse{
			ID:        view.ID,
			CreatedAt: view.CreatedAt,
			UpdatedAt: view.UpdatedAt,
			Current:   view.Current,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": resp,
	})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeSession(c.Request.Context(), ident, c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) RevokeOtherSessions(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeOtherSessions(c.Request.Context(), ident); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toTokenResponse(pair service.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenExpires: pair.TokenExpires.UnixMilli(),
	}
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Provider:  user.Provider,
		Role:      string(user.Role),
		Status:    string(user.Status),
		PhotoID:   user.PhotoID,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
