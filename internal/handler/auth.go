package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rateguard/rateguard/internal/middleware"
	"github.com/rateguard/rateguard/internal/service"
)

// AuthHandler exposes registration, login and the account lifecycle.
type AuthHandler struct {
	Auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}
type loginReq struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}
type emailReq struct {
	Email string `json:"email"`
}
type resetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}
type changeReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResp struct {
	User      userView          `json:"user"`
	Tokens    service.TokenPair `json:"tokens"`
	Workspace *workspaceView    `json:"workspace,omitempty"`
}

func toAuthResp(res service.AuthResult) authResp {
	out := authResp{User: toUserView(res.User), Tokens: res.Tokens}
	if res.Workspace != nil {
		v := toWorkspaceView(*res.Workspace)
		out.Workspace = &v
	}
	return out
}

// Register creates the account plus its default workspace and returns the
// first token pair.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Email == "" || req.FullName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and fullName are required"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}

	res, err := h.Auth.Register(c.Request().Context(), req.Email, req.Password, req.FullName, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(res))
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	res, err := h.Auth.Login(c.Request().Context(), req.Email, req.Password, req.RememberMe, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refreshToken is required"})
	}

	pair, err := h.Auth.Refresh(c.Request().Context(), req.RefreshToken, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tokens": pair})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refreshToken is required"})
	}
	if err := h.Auth.Logout(c.Request().Context(), userID, req.RefreshToken); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	n, err := h.Auth.LogoutAll(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out everywhere", "revokedSessions": n})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if err := h.Auth.VerifyEmail(c.Request().Context(), token); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "email verified"})
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	if err := h.Auth.ResendVerification(c.Request().Context(), userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "verification email sent"})
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email is required"})
	}
	if err := h.Auth.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "If your email exists, you will receive a password reset link"})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if len(req.NewPassword) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}
	if err := h.Auth.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password reset; please log in again"})
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	var req changeReq
	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "currentPassword is required"})
	}
	if len(req.NewPassword) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}
	if err := h.Auth.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed; all sessions revoked"})
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	profile, err := h.Auth.GetProfile(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}

	memberships := make([]echo.Map, 0, len(profile.Memberships))
	for _, m := range profile.Memberships {
		memberships = append(memberships, echo.Map{
			"workspaceId": m.WorkspaceID,
			"name":        m.Name,
			"slug":        m.Slug,
			"plan":        m.Plan,
			"role":        m.Role,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":       toUserView(profile.User),
		"workspaces": memberships,
	})
}
