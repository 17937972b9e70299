package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/tillpoint/internal/common"
)

// codeInvalidRequest marks a request the API could not decode.
const codeInvalidRequest common.ErrorCode = "INVALID_REQUEST"

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code        common.ErrorCode `json:"code"`
	Severity    common.Severity  `json:"severity"`
	Message     string           `json:"message"`
	Retryable   bool             `json:"retryable"`
	Reconfigure bool             `json:"reconfigure"`
}

func (s *Server) renderError(c *gin.Context, err error) {
	var ce *common.ClassifiedError
	switch {
	case errors.As(err, &ce):
	case errors.Is(err, common.ErrNotFound):
		ce = common.NewClassifiedError(common.CodeConfigTerminalNotConfigured, "", common.WithCause(err))
	default:
		ce = common.Classify(err, common.ErrorContext{})
	}

	status := statusFor(ce)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", common.ErrorAttrs(ce)...)
	} else {
		s.logger.Warn("Request rejected", common.ErrorAttrs(ce)...)
	}

	c.AbortWithStatusJSON(status, errorBody{
		Code:        ce.Code,
		Severity:    ce.Severity,
		Message:     ce.Message,
		Retryable:   ce.Retryable,
		Reconfigure: ce.NeedsReconfiguration(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
		Code:     codeInvalidRequest,
		Severity: common.SeverityLow,
		Message:  message,
	})
}

// statusFor maps a classified error onto an HTTP status.
func statusFor(ce *common.ClassifiedError) int {
	switch ce.Code {
	case common.CodeConfigTerminalNotConfigured:
		if errors.Is(ce, common.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case common.CodeSystemStateInconsistent:
		return http.StatusConflict
	case common.CodeTerminalBusy:
		return http.StatusServiceUnavailable
	case common.CodeNetworkTimeout, common.CodeTransactionTimeout:
		return http.StatusGatewayTimeout
	case common.CodeTransactionInvalidAmount:
		return http.StatusBadRequest
	}

	switch ce.Category {
	case common.CategoryConfiguration:
		return http.StatusBadRequest
	case common.CategoryNetwork, common.CategoryTerminal:
		return http.StatusBadGateway
	case common.CategoryTransaction:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
