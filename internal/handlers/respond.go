package handlers

import (
	"net/http"

	api "panelworks/stevedore/pkg/api/stevedore"
	"panelworks/stevedore/pkg/middleware"
)

// statusFor maps envelope error codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case api.ErrCodeValidation:
		return http.StatusBadRequest
	case api.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrCodeForbidden:
		return http.StatusForbidden
	case api.ErrCodeNotFound:
		return http.StatusNotFound
	case api.ErrCodeConflict:
		return http.StatusConflict
	case api.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case api.ErrCodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c middleware.Context, data interface{}) {
	c.JSON(http.StatusOK, api.OK(data))
}

func respondCreated(c middleware.Context, data interface{}) {
	c.JSON(http.StatusCreated, api.OK(data))
}

func respondMessage(c middleware.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, api.OKMessage(data, message))
}

func respondErr(c middleware.Context, code, message string) {
	c.JSON(statusFor(code), api.Err(code, message))
}
