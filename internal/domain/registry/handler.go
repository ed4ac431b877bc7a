package registry

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/ledger"
	"github.com/medledger/medledger/internal/platform/middleware"
)

// AccessScopeHeader reports which rule allowed a report read.
const AccessScopeHeader = "X-Access-Scope"

// Echo context keys read by the access audit middleware.
const (
	ContextKeyScope   = middleware.AuditScopeKey
	ContextKeyPatient = middleware.AuditPatientKey
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.RegisterPatient)
	api.POST("/doctors", h.RegisterDoctor)
	api.GET("/accounts/me", h.GetMyAccount)

	api.POST("/reports", h.UploadReport)

	api.POST("/grants", h.AuthorizeDoctor)
	api.GET("/grants", h.ListGrants)
	api.GET("/grants/:doctor", h.IsAuthorized)
	api.DELETE("/grants/:doctor", h.RevokeDoctor)

	api.GET("/patients/:address/reports", h.ViewReports)
	api.GET("/patients/:address/emergency-reports", h.EmergencyAccess)

	api.PUT("/doctors/:address/verification", h.SetDoctorVerification, auth.RequireRole("admin"))
}

type uploadReportRequest struct {
	ContentHash   string `json:"content_hash"`
	EmergencyFlag bool   `json:"emergency_flag"`
}

type authorizeDoctorRequest struct {
	Doctor string `json:"doctor"`
}

type verificationRequest struct {
	Verified bool `json:"verified"`
}

type authorizationStatus struct {
	Patient    string `json:"patient"`
	Doctor     string `json:"doctor"`
	Authorized bool   `json:"authorized"`
}

func callerAddress(c echo.Context) (string, error) {
	caller := auth.CallerAddressFromContext(c.Request().Context())
	if caller == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	return caller, nil
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	a, err := h.svc.RegisterPatient(c.Request().Context(), caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	a, err := h.svc.RegisterDoctor(c.Request().Context(), caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetMyAccount(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAccount(c.Request().Context(), caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SetDoctorVerification(c echo.Context) error {
	var req verificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.SetDoctorVerification(c.Request().Context(), c.Param("address"), req.Verified)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UploadReport(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	var req uploadReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.svc.UploadReport(c.Request().Context(), caller, req.ContentHash, req.EmergencyFlag)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) AuthorizeDoctor(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	var req authorizeDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	g, err := h.svc.AuthorizeDoctor(c.Request().Context(), caller, req.Doctor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RevokeDoctor(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeDoctor(c.Request().Context(), caller, c.Param("doctor")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListGrants(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	grants, err := h.svc.ListGrants(c.Request().Context(), caller)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, grants)
}

// IsAuthorized answers for the patient named by ?patient= (the caller by
// default). Only that patient or the doctor in question may ask.
func (h *Handler) IsAuthorized(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	self, err := NormalizeAddress(caller)
	if err != nil {
		return httpError(ErrNotAuthorized)
	}
	patient := self
	if q := c.QueryParam("patient"); q != "" {
		if patient, err = NormalizeAddress(q); err != nil {
			return httpError(ErrNotAuthorized)
		}
	}
	doctor, err := NormalizeAddress(c.Param("doctor"))
	if err != nil {
		return httpError(ErrDoctorNotFound)
	}
	if self != patient && self != doctor {
		return httpError(ErrNotAuthorized)
	}

	ok, err := h.svc.IsAuthorized(c.Request().Context(), patient, doctor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, authorizationStatus{Patient: patient, Doctor: doctor, Authorized: ok})
}

func (h *Handler) ViewReports(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	access, err := h.svc.ViewReports(c.Request().Context(), caller, c.Param("address"))
	if err != nil {
		return httpError(err)
	}
	return respondAccess(c, access)
}

func (h *Handler) EmergencyAccess(c echo.Context) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	access, err := h.svc.EmergencyAccess(c.Request().Context(), caller, c.Param("address"))
	if err != nil {
		return httpError(err)
	}
	return respondAccess(c, access)
}

func respondAccess(c echo.Context, access *Access) error {
	c.Set(ContextKeyScope, string(access.Scope))
	c.Set(ContextKeyPatient, access.Patient)
	c.Response().Header().Set(AccessScopeHeader, string(access.Scope))
	return c.JSON(http.StatusOK, access)
}

// httpError maps registry errors to HTTP status codes. Unknown errors become
// a generic 500 so internal details never reach the client.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrRoleImmutable), errors.Is(err, ledger.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotAPatient), errors.Is(err, ErrNotAuthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrAccountNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidReference), errors.Is(err, ErrInvalidAddress):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
