package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rateguard/rateguard/internal/middleware"
	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/repository"
	"github.com/rateguard/rateguard/internal/service"
)

// WorkspaceHandler exposes workspace CRUD, membership and invitations.
type WorkspaceHandler struct {
	Workspaces *service.WorkspaceService
}

func NewWorkspaceHandler(ws *service.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{Workspaces: ws}
}

// ----- DTOs -----

type createWorkspaceReq struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
}
type updateWorkspaceReq struct {
	Name string `json:"name"`
}
type inviteReq struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}
type memberRoleReq struct {
	Role string `json:"role"`
}
type transferReq struct {
	NewOwnerID uint64 `json:"newOwnerId"`
}
type invitationTokenReq struct {
	Token string `json:"token"`
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func toWorkspaceWithRole(w repository.WorkspaceWithRole) echo.Map {
	return echo.Map{
		"id":        w.ID,
		"name":      w.Name,
		"slug":      w.Slug,
		"ownerId":   w.OwnerID,
		"plan":      w.Plan,
		"createdAt": w.CreatedAt,
		"myRole":    w.Role,
	}
}

func (h *WorkspaceHandler) Create(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	var req createWorkspaceReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ws, err := h.Workspaces.Create(c.Request().Context(), userID, req.Name, req.Plan)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"workspace": toWorkspaceView(ws)})
}

func (h *WorkspaceHandler) List(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	list, err := h.Workspaces.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, 0, len(list))
	for _, w := range list {
		out = append(out, toWorkspaceWithRole(w))
	}
	return c.JSON(http.StatusOK, echo.Map{"workspaces": out})
}

func (h *WorkspaceHandler) Get(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	ws, err := h.Workspaces.Get(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"workspace": toWorkspaceWithRole(ws)})
}

func (h *WorkspaceHandler) GetBySlug(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	slug := c.Param("slug")
	if slug == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slug"})
	}
	ws, err := h.Workspaces.GetBySlug(c.Request().Context(), slug, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"workspace": toWorkspaceWithRole(ws)})
}

func (h *WorkspaceHandler) Update(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	var req updateWorkspaceReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ws, err := h.Workspaces.Update(c.Request().Context(), id, userID, req.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"workspace": toWorkspaceView(ws)})
}

func (h *WorkspaceHandler) Delete(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	if err := h.Workspaces.Delete(c.Request().Context(), id, userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "workspace deleted"})
}

func (h *WorkspaceHandler) ListMembers(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	members, err := h.Workspaces.ListMembers(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, 0, len(members))
	for _, m := range members {
		out = append(out, echo.Map{
			"id":       m.ID,
			"userId":   m.UserID,
			"email":    m.Email,
			"fullName": m.FullName,
			"role":     m.Role,
			"joinedAt": m.JoinedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"members": out})
}

func (h *WorkspaceHandler) UpdateMemberRole(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	memberID, ok2 := pathID(c, "memberId")
	if !ok || !ok2 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req memberRoleReq
	if err := c.Bind(&req); err != nil || req.Role == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role is required"})
	}

	role := model.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	m, err := h.Workspaces.UpdateMemberRole(c.Request().Context(), id, userID, memberID, role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"member": echo.Map{"id": m.ID, "userId": m.UserID, "role": m.Role}})
}

func (h *WorkspaceHandler) RemoveMember(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	memberID, ok2 := pathID(c, "memberId")
	if !ok || !ok2 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	if err := h.Workspaces.RemoveMember(c.Request().Context(), id, userID, memberID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "member removed"})
}

func (h *WorkspaceHandler) Leave(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	if err := h.Workspaces.Leave(c.Request().Context(), id, userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "left workspace"})
}

func (h *WorkspaceHandler) TransferOwnership(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	var req transferReq
	if err := c.Bind(&req); err != nil || req.NewOwnerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "newOwnerId is required"})
	}
	if err := h.Workspaces.TransferOwnership(c.Request().Context(), id, userID, req.NewOwnerID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ownership transferred"})
}

func (h *WorkspaceHandler) Invite(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	var req inviteReq
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Role == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and role are required"})
	}

	role := model.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	inv, err := h.Workspaces.Invite(c.Request().Context(), id, userID, req.Email, role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"invitation": echo.Map{
		"id":        inv.ID,
		"email":     inv.Email,
		"role":      inv.Role,
		"expiresAt": inv.ExpiresAt,
	}})
}

func (h *WorkspaceHandler) ListInvitations(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid workspace id"})
	}
	invs, err := h.Workspaces.ListInvitations(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, err)
	}
	now := time.Now().UTC()
	out := make([]echo.Map, 0, len(invs))
	for _, inv := range invs {
		out = append(out, echo.Map{
			"id":        inv.ID,
			"email":     inv.Email,
			"role":      inv.Role,
			"invitedBy": inv.InviterName,
			"expiresAt": inv.ExpiresAt,
			"isExpired": now.After(inv.ExpiresAt),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"invitations": out})
}

func (h *WorkspaceHandler) CancelInvitation(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	id, ok := pathID(c, "id")
	invitationID, ok2 := pathID(c, "invitationId")
	if !ok || !ok2 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	if err := h.Workspaces.CancelInvitation(c.Request().Context(), id, userID, invitationID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "invitation cancelled"})
}

func (h *WorkspaceHandler) AcceptInvitation(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	var req invitationTokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	m, err := h.Workspaces.AcceptInvitation(c.Request().Context(), userID, req.Token)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"membership": echo.Map{
		"workspaceId": m.WorkspaceID,
		"role":        m.Role,
	}})
}

func (h *WorkspaceHandler) DeclineInvitation(c echo.Context) error {
	userID, _ := middleware.UserID(c)
	var req invitationTokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if err := h.Workspaces.DeclineInvitation(c.Request().Context(), userID, req.Token); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "invitation declined"})
}
