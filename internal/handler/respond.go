// Package handler contains the Echo HTTP handlers. Handlers bind and
// validate request bodies, call the service layer and translate typed
// service errors into HTTP statuses; domain rules live below this layer.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rateguard/rateguard/internal/model"
	"github.com/rateguard/rateguard/internal/service"
)

// fail maps a service error to its HTTP status. Untyped errors surface as a
// bare 500 so internals never leak into responses.
func fail(c echo.Context, err error) error {
	var se *service.Error
	if errors.As(err, &se) {
		return c.JSON(statusOf(se.Kind), echo.Map{"error": se.Message})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

func statusOf(k service.Kind) int {
	switch k {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ----- shared response shapes -----

type userView struct {
	ID            uint64     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"fullName"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

type workspaceView struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   uint64    `json:"ownerId"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

func toWorkspaceView(w model.Workspace) workspaceView {
	return workspaceView{
		ID:        w.ID,
		Name:      w.Name,
		Slug:      w.Slug,
		OwnerID:   w.OwnerID,
		Plan:      w.Plan,
		CreatedAt: w.CreatedAt,
	}
}
