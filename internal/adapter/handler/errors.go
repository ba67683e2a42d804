package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/saleszy/internal/core/domain"
)

// errorCode maps a domain error onto the wire. Name travels to gRPC clients
// in the x-error-code trailer so they can rebuild the domain error.
type errorCode struct {
	err        error
	name       string
	grpcCode   codes.Code
	httpStatus int
}

// Order matters: the first match wins.
var errorCodes = []errorCode{
	{domain.ErrNotFound, "NOT_FOUND", codes.NotFound, http.StatusNotFound},
	{domain.ErrForbidden, "FORBIDDEN", codes.PermissionDenied, http.StatusForbidden},
	{domain.ErrInsufficientStock, "INSUFFICIENT_STOCK", codes.FailedPrecondition, http.StatusConflict},
	{domain.ErrInvalidAdjustment, "INVALID_ADJUSTMENT", codes.FailedPrecondition, http.StatusUnprocessableEntity},
	{domain.ErrPaymentRequired, "PAYMENT_REQUIRED", codes.FailedPrecondition, http.StatusPaymentRequired},
	{domain.ErrInvalidSignature, "INVALID_SIGNATURE", codes.Unauthenticated, http.StatusUnauthorized},
	{domain.ErrTransientConflict, "TRANSIENT_CONFLICT", codes.Aborted, http.StatusServiceUnavailable},
	{domain.ErrInvalidQuantity, "INVALID_QUANTITY", codes.InvalidArgument, http.StatusBadRequest},
	{domain.ErrInvalidTier, "INVALID_TIER", codes.InvalidArgument, http.StatusBadRequest},
	{domain.ErrInvalidWindow, "INVALID_WINDOW", codes.InvalidArgument, http.StatusBadRequest},
	{domain.ErrInvalidPayload, "INVALID_PAYLOAD", codes.InvalidArgument, http.StatusBadRequest},
	{domain.ErrInvalidAmount, "INVALID_AMOUNT", codes.InvalidArgument, http.StatusBadRequest},
}

var internalError = errorCode{name: "INTERNAL", grpcCode: codes.Internal, httpStatus: http.StatusInternalServerError}

func classify(err error) (errorCode, bool) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec, true
		}
	}
	return internalError, false
}

func errorByName(name string) (errorCode, bool) {
	for _, ec := range errorCodes {
		if ec.name == name {
			return ec, true
		}
	}
	return errorCode{}, false
}
