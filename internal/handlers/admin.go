package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/middleware"
	"authgate/internal/models"
	"authgate/internal/service"
)

type listUsersQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Search string `form:"search" binding:"max=200"`
	Sort   string `form:"sort"`
}

type adminCreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Name     string `json:"name" binding:"max=200"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

type adminUpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=200"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=6,max=72"`
	PhotoID  *string `json:"photoId"`
	Role     *string `json:"role"`
	Status   *string `json:"status"`
}

type sortingResponse struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

type paginationResponse struct {
	TotalCount  int              `json:"totalCount"`
	CurrentPage int              `json:"currentPage"`
	TotalPages  int              `json:"totalPages"`
	PageSize    int              `json:"pageSize"`
	Sorting     *sortingResponse `json:"sorting,omitempty"`
	Search      string           `json:"search,omitempty"`
}

type userListResponse struct {
	Data       []userResponse     `json:"data"`
	Pagination paginationResponse `json:"pagination"`
	Links      map[string]string  `json:"links"`
}

var sortableUserFields = map[string]models.UserSort{
	"createdAt": models.UserSortCreatedAt,
	"email":     models.UserSortEmail,
	"name":      models.UserSortName,
	"status":    models.UserSortStatus,
}

// AdminListUsers pages through the user directory. sort takes "field" or
// "field:asc|desc".
func (h HandlerSet) AdminListUsers(c *gin.Context) {
	var q listUsersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	input := service.ListUsersInput{Page: q.Page, Limit: q.Limit, Search: strings.TrimSpace(q.Search)}
	var sorting *sortingResponse
	if q.Sort != "" {
		field, order, _ := strings.Cut(q.Sort, ":")
		sort, ok := sortableUserFields[field]
		order = strings.ToLower(order)
		if !ok || (order != "" && order != "asc" && order != "desc") {
			middleware.AbortWithError(c, apperr.ErrValidation.WithMessage("Unsupported sort "+strconv.Quote(q.Sort)))
			return
		}
		if order == "" {
			order = "asc"
		}
		input.Sort, input.Desc = sort, order == "desc"
		sorting = &sortingResponse{Field: field, Order: order}
	}

	page, err := h.users.List(c.Request.Context(), input)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	data := make([]userResponse, 0, len(page.Users))
	for _, u := range page.Users {
		data = append(data, toUserResponse(u))
	}

	extra := url.Values{}
	if input.Search != "" {
		extra.Set("search", input.Search)
	}
	if q.Sort != "" {
		extra.Set("sort", q.Sort)
	}

	c.JSON(http.StatusOK, userListResponse{
		Data: data,
		Pagination: paginationResponse{
			TotalCount:  page.Total,
			CurrentPage: page.Page,
			TotalPages:  page.TotalPages,
			PageSize:    page.Limit,
			Sorting:     sorting,
			Search:      input.Search,
		},
		Links: pageLinks(c.Request.URL.Path, page.Page, page.TotalPages, page.Limit, extra),
	})
}

// pageLinks returns first/prev and next/last links where they exist.
func pageLinks(base string, page, totalPages, limit int, extra url.Values) map[string]string {
	link := func(p int) string {
		v := url.Values{}
		for k, vals := range extra {
			v[k] = vals
		}
		v.Set("page", strconv.Itoa(p))
		v.Set("limit", strconv.Itoa(limit))
		return base + "?" + v.Encode()
	}

	links := map[string]string{}
	if page > 1 {
		links["first"] = link(1)
		links["prev"] = link(min(page-1, max(totalPages, 1)))
	}
	if page < totalPages {
		links["next"] = link(page + 1)
		links["last"] = link(totalPages)
	}
	return links
}

func (h HandlerSet) AdminGetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) AdminCreateUser(c *gin.Context) {
	var req adminCreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Create(c.Request.Context(), service.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     models.UserRole(req.Role),
		Status:   models.UserStatus(req.Status),
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(user))
}

func (h HandlerSet) AdminUpdateUser(c *gin.Context) {
	var req adminUpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	input := service.AdminUpdateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		PhotoID:  req.PhotoID,
	}
	if req.Role != nil {
		role := models.UserRole(*req.Role)
		input.Role = &role
	}
	if req.Status != nil {
		status := models.UserStatus(*req.Status)
		input.Status = &status
	}

	user, err := h.users.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) AdminDeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AdminRevokeUserSessions signs the target user out of every device.
func (h HandlerSet) AdminRevokeUserSessions(c *gin.Context) {
	userID := c.Param("id")

	if err := h.auth.RevokeUserSessions(c.Request.Context(), userID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if ident, ok := middleware.IdentityFrom(c); ok {
		h.log.Info().
			Str("admin_id", ident.UserID).
			Str("target_user_id", userID).
			Msg("admin revoked user sessions")
	}
	c.Status(http.StatusNoContent)
}
