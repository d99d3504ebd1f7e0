package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PasswordRequest carries a plaintext admin password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// Login exchanges the admin password for a token.
// POST /api/admin/login
func (h *Handler) Login(c echo.Context) error {
	var req PasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ok, err := h.service.Access.VerifyAdminPassword(c.Request().Context(), req.Password)
	if err != nil {
		return errorResponse(c, err)
	}
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid password"})
	}

	token, err := h.service.Access.GenerateAdminToken()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// Logout revokes the presented admin token.
// POST /api/admin/logout
func (h *Handler) Logout(c echo.Context) error {
	revoked := h.service.Access.RevokeAdminToken(adminToken(c))
	return c.JSON(http.StatusOK, map[string]bool{"revoked": revoked})
}

// ChangePassword replaces the stored admin password.
// POST /api/admin/password
func (h *Handler) ChangePassword(c echo.Context) error {
	var req PasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.service.Access.SetAdminPassword(c.Request().Context(), req.Password); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
