package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"fleetbot/internal/service/session"
	"fleetbot/internal/utils/jid"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Status  string      `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, errorBody{
		Status:  "error",
		Code:    code,
		Message: message,
		Detail:  detail,
	})
}

// failSession maps a session error to its HTTP status.
func failSession(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidAccount), errors.Is(err, jid.ErrInvalidNumber):
		return fail(c, http.StatusBadRequest, "INVALID_NUMBER", "Invalid phone number format", err.Error())
	case errors.Is(err, session.ErrAlreadyConnected):
		return fail(c, http.StatusConflict, "ALREADY_ACTIVE", "A session for this number is already running", nil)
	case errors.Is(err, session.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fail(c, http.StatusGatewayTimeout, "TIMEOUT", "Timed out waiting for the pairing code", nil)
	case errors.Is(err, session.ErrPairingFailed), errors.Is(err, session.ErrPairingExpired):
		return fail(c, http.StatusBadGateway, "PAIRING_FAILED", "Failed to generate code", err.Error())
	}

	switch session.KindOf(err) {
	case session.KindPolicy:
		return fail(c, http.StatusForbidden, "FORBIDDEN", "The account was refused", err.Error())
	case session.KindIdentity:
		return fail(c, http.StatusUnauthorized, "LOGGED_OUT", "The account was logged out, pair again", err.Error())
	case session.KindTransient:
		return fail(c, http.StatusBadGateway, "CONNECTION_FAILED", "Connection failed", err.Error())
	}
	return fail(c, http.StatusInternalServerError, "INTERNAL", "Server error", err.Error())
}

// pathNumber sanitizes the :number parameter.
func pathNumber(c echo.Context) (string, error) {
	return jid.NormalizeNumber(c.Param("number"))
}
