package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/campusiq/opsgovernor/services"
	"github.com/campusiq/opsgovernor/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses. Only the domain
// message and details reach the client; wrapped causes are logged.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	handleServiceError(w, err, nil, logger)
}

// handleServiceError writes err with extra merged under the error's own
// details. The typed failure is always reported as details.type.
func handleServiceError(w http.ResponseWriter, err error, extra map[string]interface{}, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	message := services.GetErrorMessage(err)
	details := make(map[string]interface{})
	for k, v := range extra {
		details[k] = v
	}
	for k, v := range services.GetErrorDetails(err) {
		details[k] = v
	}
	if errType != "" {
		details["type"] = string(errType)
	}

	var status int
	switch errType {
	case services.ErrorTypeValidation, services.ErrorTypeSchemaViolation:
		status = http.StatusBadRequest
	case services.ErrorTypeUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorTypeParseFailure, services.ErrorTypeLowConfidence:
		status = http.StatusUnprocessableEntity
	case services.ErrorTypeForbidden, services.ErrorTypePermissionDenied, services.ErrorTypeScopeViolation:
		status = http.StatusForbidden
	case services.ErrorTypeNotFound:
		status = http.StatusNotFound
	case services.ErrorTypeConflict, services.ErrorTypeRollbackFailure,
		services.ErrorTypeConcurrentModification, services.ErrorTypeConstraintViolation:
		status = http.StatusConflict
	case services.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
		if secs, ok := details["retryAfterSeconds"].(float64); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(secs))))
		}
	case services.ErrorTypeEstimationFailure:
		status = http.StatusServiceUnavailable
	case services.ErrorTypeExternal:
		status = http.StatusBadGateway
	case services.ErrorTypeExecutionFailure:
		status = http.StatusInternalServerError
		logger.Warn("command execution failed", zap.Error(err))
	case services.ErrorTypeLedgerWriteFailure:
		logger.Error("audit ledger write failed", zap.Error(err))
		writeOrLog(w, http.StatusInternalServerError, "The action could not be recorded and was not applied", nil, logger)
		return
	case services.ErrorTypeInternal:
		logger.Error("internal server error", zap.Error(err))
		writeOrLog(w, http.StatusInternalServerError, "An internal error occurred", nil, logger)
		return
	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(errType)))
		writeOrLog(w, http.StatusInternalServerError, "An unexpected error occurred", nil, logger)
		return
	}

	if len(details) == 0 {
		details = nil
	}
	logger.Debug("handled service error",
		zap.String("type", string(errType)),
		zap.Int("status", status),
		zap.String("message", message),
		zap.Any("details", details))
	writeOrLog(w, status, message, details, logger)
}

func writeOrLog(w http.ResponseWriter, status int, message string, details map[string]interface{}, logger *zap.Logger) {
	if err := utils.WriteError(w, status, message, details); err != nil {
		logger.Error("failed to write error response", zap.Int("status", status), zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		writeOrLog(w, http.StatusBadRequest, "Validation failed", details, logger)
		return
	}
	writeOrLog(w, http.StatusBadRequest, err.Error(), nil, logger)
}
