package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/middleware"
	"authgate/internal/models"
	"authgate/internal/service"
)

// AuthAPI is the part of service.AuthService the HTTP layer calls.
type AuthAPI interface {
	Login(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	Register(ctx context.Context, input service.RegisterInput) (models.User, error)
	ConfirmEmail(ctx context.Context, hash string) error
	ConfirmNewEmail(ctx context.Context, hash string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, hash, password string) error
	Refresh(ctx context.Context, ident models.RefreshIdentity) (service.TokenPair, error)
	Logout(ctx context.Context, ident models.Identity) error
	Me(ctx context.Context, ident models.Identity) (models.User, error)
	Update(ctx context.Context, ident models.Identity, input service.UpdateInput) (models.User, error)
	Delete(ctx context.Context, ident models.Identity) error
	ListSessions(ctx context.Context, ident models.Identity) ([]service.SessionView, error)
	RevokeSession(ctx context.Context, ident models.Identity, sessionID string) error
	RevokeOtherSessions(ctx context.Context, ident models.Identity) error
	RevokeUserSessions(ctx context.Context, userID string) error
}

// UserAdminAPI is service.UserService as seen by the admin routes.
type UserAdminAPI interface {
	List(ctx context.Context, input service.ListUsersInput) (service.UserPage, error)
	Get(ctx context.Context, id string) (models.User, error)
	Create(ctx context.Context, input service.CreateUserInput) (models.User, error)
	Update(ctx context.Context, id string, input service.AdminUpdateInput) (models.User, error)
	Delete(ctx context.Context, id string) error
}

type FileAPI interface {
	Upload(ctx context.Context, input service.UploadInput) (service.FileResult, error)
	Get(ctx context.Context, ident models.Identity, id string) (service.FileResult, error)
}

type TokenVerifier interface {
	middleware.AccessVerifier
	middleware.RefreshVerifier
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Auth     AuthAPI
	Users    UserAdminAPI
	Files    FileAPI
	Tokens   TokenVerifier
	Sessions middleware.SessionFinder
	Checks   map[string]HealthCheck
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	auth     AuthAPI
	users    UserAdminAPI
	files    FileAPI
	tokens   TokenVerifier
	sessions middleware.SessionFinder
	checks   map[string]HealthCheck
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Dependencies) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		auth:     deps.Auth,
		users:    deps.Users,
		files:    deps.Files,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		checks:   deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	v1 := router.Group("/v1")
	v1.GET("/healthz", h.Health)

	access := middleware.AccessGuard(h.tokens, h.sessions)

	auth := v1.Group("/auth")
	{
		auth.POST("/email/login", h.Login)
		auth.POST("/email/register", h.RegisterUser)
		auth.POST("/email/confirm", h.ConfirmEmail)
		auth.POST("/email/confirm/new", h.ConfirmNewEmail)
		auth.POST("/forgot/password", h.ForgotPassword)
		auth.POST("/reset/password", h.ResetPassword)
		auth.POST("/refresh", middleware.RefreshGuard(h.tokens), h.Refresh)
	}

	protected := v1.Group("/auth", access)
	{
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.PATCH("/me", h.UpdateMe)
		protected.DELETE("/me", h.DeleteMe)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/others", h.RevokeOtherSessions)
		protected.DELETE("/sessions/:id", h.RevokeSession)
	}

	files := v1.Group("/files", access)
	files.POST("/upload", h.UploadFile)
	files.GET("/:id", h.GetFile)

	admin := v1.Group("/admin", access, middleware.RequireRoles(models.UserRoleAdmin))
	{
		admin.GET("/users", h.AdminListUsers)
		admin.POST("/users", h.AdminCreateUser)
		admin.GET("/users/:id", h.AdminGetUser)
		admin.PATCH("/users/:id", h.AdminUpdateUser)
		admin.DELETE("/users/:id", h.AdminDeleteUser)
		admin.DELETE("/users/:id/sessions", h.AdminRevokeUserSessions)
	}
}

// bindJSON decodes and validates the body; shape errors never reach the core.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return false
	}
	return true
}

func currentIdentity(c *gin.Context) (models.Identity, bool) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		middleware.AbortWithError(c, apperr.ErrMissingToken)
	}
	return ident, ok
}
