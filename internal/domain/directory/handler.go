package directory

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/domain/registry"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/directory", h.Publish)
	api.GET("/directory", h.List)
	api.GET("/directory/:username", h.Lookup)
}

type publishRequest struct {
	Username string `json:"username"`
}

func (h *Handler) Publish(c echo.Context) error {
	caller := auth.CallerAddressFromContext(c.Request().Context())
	if caller == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := h.svc.Publish(c.Request().Context(), caller, req.Username)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Lookup(c echo.Context) error {
	e, err := h.svc.Lookup(c.Request().Context(), c.Param("username"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	entries, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, registry.ErrInvalidAddress):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
