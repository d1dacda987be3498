package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/resultset/internal/errdefs"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// statusFor maps an error kind to its HTTP status and client message.
// Unknown ids never leak more than the fixed not-found message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound, errdefs.ErrNotFound.Error()
	case errors.Is(err, errdefs.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errdefs.ErrNotConfigured):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func isJSON(contentType string) bool {
	return contentType == "application/json" || strings.HasSuffix(contentType, "+json")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	code, msg := statusFor(err)
	writeJSON(c, code, errorResp{Error: msg})
}
