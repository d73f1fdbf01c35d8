package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// getQR renders the current QR payload of an unlinked session as a PNG, or
// as block text with ?format=text.
func (s *Server) getQR(c echo.Context) error {
	number, err := pathNumber(c)
	if err != nil {
		return failSession(c, err)
	}
	sup, found := s.sessions.Get(number)
	if !found {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "No session for this number", nil)
	}
	payload := sup.QR()
	if payload == "" {
		return fail(c, http.StatusNotFound, "NO_QR", "No QR code pending for this number", nil)
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		s.log.Errorf("Failed to generate QR code: %v", err)
		return fail(c, http.StatusInternalServerError, "QR_FAILED", "Failed to generate QR code", err.Error())
	}

	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, qr.ToSmallString(false))
	}

	size := defaultQRSize
	if v, err := strconv.Atoi(c.QueryParam("size")); err == nil && v > 0 {
		size = min(v, maxQRSize)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QR_FAILED", "Failed to encode QR code", err.Error())
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}
