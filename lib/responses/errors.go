package responses

import (
	"errors"
	"net/http"

	"github.com/getAlby/lncheckout/lib/service"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var BadSignatureError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "invalid signature",
	HttpStatusCode: 401,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "not found",
	HttpStatusCode: 404,
}

var InvalidStateError = ErrorResponse{
	Error:          true,
	Code:           9,
	Message:        "invoice can not be changed in its current state",
	HttpStatusCode: 409,
}

var GatewayUnavailableError = ErrorResponse{
	Error:          true,
	Code:           10,
	Message:        "payment gateway unavailable. Please try again later",
	HttpStatusCode: 502,
}

// FromServiceError picks the response for an error returned by the checkout
// service. Validation, not found and invalid state errors keep their message.
func FromServiceError(err error) ErrorResponse {
	switch {
	case errors.Is(err, service.ErrValidation):
		return withMessage(BadArgumentsError, err)
	case errors.Is(err, service.ErrNotFound):
		return withMessage(NotFoundError, err)
	case errors.Is(err, service.ErrInvalidState):
		return withMessage(InvalidStateError, err)
	case errors.Is(err, service.ErrSignature):
		return BadSignatureError
	case errors.Is(err, service.ErrGateway):
		return GatewayUnavailableError
	default:
		return GeneralServerError
	}
}

func withMessage(response ErrorResponse, err error) ErrorResponse {
	response.Message = err.Error()
	return response
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("RequestID", c.Response().Header().Get(echo.HeaderXRequestID))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
		return
	}
	response := FromServiceError(err)
	c.JSON(response.HttpStatusCode, response)
}

// isErrAllowedForSentry filters out errors caused by the caller, bad auth
// and bad signatures in particular.
func isErrAllowedForSentry(err error) bool {
	if he, ok := err.(*echo.HTTPError); ok {
		if body, ok := he.Message.(echo.Map); ok && body["code"] == BadAuthError.Code {
			return false
		}
		if response, ok := he.Message.(ErrorResponse); ok && response.Code == BadAuthError.Code {
			return false
		}
		return true
	}
	return FromServiceError(err).HttpStatusCode >= http.StatusInternalServerError
}
