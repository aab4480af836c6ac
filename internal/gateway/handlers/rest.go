package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// Same ceiling as the gateway read limit; a body the socket would refuse
// should not sneak in over HTTP.
const maxRESTBodyBytes = 512 * 1024

// REST mirrors the frame-routed API over plain HTTP. Every request is
// converted to a wire frame and dispatched through the same router the
// gateway uses, so the two surfaces cannot drift apart.
type REST struct {
	router *wire.Router
	logger *logger.Logger
}

// NewREST creates the HTTP mirror.
func NewREST(router *wire.Router, log *logger.Logger) *REST {
	return &REST{
		router: router,
		logger: log.WithFields(zap.String("component", "rest")),
	}
}

// Mount installs the mirror under /api on the engine.
func (r *REST) Mount(engine *gin.Engine) {
	engine.Any("/api/*path", r.dispatch)
}

func (r *REST) dispatch(c *gin.Context) {
	var data []byte
	if c.Request.Body != nil {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRESTBodyBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(wire.ErrorCodeBadRequest, "failed to read request body"))
			return
		}
		if len(body) > maxRESTBodyBytes {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody(wire.ErrorCodeValidation, "request body too large"))
			return
		}
		if len(body) > 0 {
			data = body
		}
	}

	query := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	msg := &wire.Message{
		ID:     uuid.New().String(),
		Method: wire.Method(c.Request.Method),
		Path:   "/api" + c.Param("path"),
		Query:  query,
		Data:   data,
	}

	response, err := r.router.Dispatch(c.Request.Context(), msg)
	if err != nil {
		c.JSON(apperrors.GetHTTPStatus(err), errorBody(apperrors.GetCode(err), err.Error()))
		return
	}
	if response.Error != nil {
		// Dispatch reports unmatched routes as an error frame, not an error.
		status := http.StatusNotFound
		if response.Error.Code != wire.ErrorCodeNotFound {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": response.Error})
		return
	}
	c.Data(http.StatusOK, "application/json", response.Data)
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
