package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fleetbot/internal/utils/jid"
)

type codeResponse struct {
	Status  string `json:"status"`
	Number  string `json:"number"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// getCode starts a session for ?number= and relays its pairing code.
func (s *Server) getCode(c echo.Context) error {
	raw := c.QueryParam("number")
	if raw == "" {
		return fail(c, http.StatusBadRequest, "MISSING_NUMBER", "Number is required", nil)
	}
	number, err := jid.NormalizeNumber(raw)
	if err != nil {
		return failSession(c, err)
	}

	if sup, found := s.sessions.Get(number); found && sup.Status().Connected {
		return ok(c, codeResponse{
			Status:  "already_connected",
			Number:  number,
			Message: "This number is already connected",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.pairTimeout)
	defer cancel()

	s.log.Infof("Pairing request for %s", number)
	out, err := s.sessions.Pair(ctx, number)
	if err != nil {
		s.log.Warnf("Pairing %s failed: %v", number, err)
		return failSession(c, err)
	}
	if out.Connected {
		return ok(c, codeResponse{
			Status:  "connected",
			Number:  number,
			Message: "Restored the stored session",
		})
	}
	return ok(c, codeResponse{
		Status:  "code",
		Number:  number,
		Code:    out.Code,
		Message: "Enter this code in WhatsApp > Linked Devices",
	})
}

func (s *Server) getStatus(c echo.Context) error {
	number, err := pathNumber(c)
	if err != nil {
		return failSession(c, err)
	}
	st, _ := s.sessions.Status(number)
	return ok(c, st)
}

// deleteSession stops the session. With ?logout=true the account is also
// unlinked and its credentials purged.
func (s *Server) deleteSession(c echo.Context) error {
	number, err := pathNumber(c)
	if err != nil {
		return failSession(c, err)
	}
	logout, _ := strconv.ParseBool(c.QueryParam("logout"))
	_, known := s.sessions.Status(number)

	if logout {
		if err := s.sessions.Logout(c.Request().Context(), number); err != nil {
			return fail(c, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out", err.Error())
		}
		return ok(c, map[string]interface{}{"number": number, "stopped": known, "logged_out": true})
	}
	if !known {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "No session for this number", nil)
	}
	s.sessions.Stop(c.Request().Context(), number)
	return ok(c, map[string]interface{}{"number": number, "stopped": true, "logged_out": false})
}

func (s *Server) listSessions(c echo.Context) error {
	ids := s.sessions.List()
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if st, found := s.sessions.Status(id); found {
			out = append(out, st)
		}
	}
	return ok(c, map[string]interface{}{"count": len(out), "sessions": out})
}

func (s *Server) getHealth(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
