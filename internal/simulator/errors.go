package simulator

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/walletsim/internal/aggregator"
	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeInvalidJSON          = "invalid_json"
	errorCodeInvalidField         = "invalid_field"
	errorCodeInvalidAccount       = "invalid_account"
	errorCodeInvalidRequest       = "invalid_request"
	errorCodeAccountNotFound      = "account_not_found"
	errorCodeTransactionNotFound  = "transaction_not_found"
	errorCodeDuplicateReference   = "duplicate_reference"
	errorCodeDuplicateBatch       = "duplicate_transactions"
	errorCodeAlreadyVoided        = "already_voided"
	errorCodeInvalidVoidTarget    = "invalid_void_target"
	errorCodeInsufficientBalance  = "insufficient_balance"
	errorCodeInvalidSignature     = "invalid_signature"
	errorCodeInternal             = "internal_error"
	errorCodeMethodNotAllowed     = "method_not_allowed"
	errorCodeNotFound             = "not_found"
	errorFieldDuplicateReferences = "transaction_ids"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is ordered: the first match wins.
var errorMappings = []errorMapping{
	{target: wallet.ErrInvalidAccountID, status: http.StatusUnprocessableEntity, code: errorCodeInvalidAccount},
	{target: wallet.ErrStructuralValidation, status: http.StatusUnprocessableEntity, code: errorCodeInvalidRequest},
	{target: wallet.ErrInvalidVoidTarget, status: http.StatusUnprocessableEntity, code: errorCodeInvalidVoidTarget},
	{target: wallet.ErrAccountNotFound, status: http.StatusNotFound, code: errorCodeAccountNotFound},
	{target: wallet.ErrTransactionNotFound, status: http.StatusNotFound, code: errorCodeTransactionNotFound},
	{target: wallet.ErrVoidTargetNotFound, status: http.StatusNotFound, code: errorCodeTransactionNotFound},
	{target: wallet.ErrTransactionAlreadyVoided, status: http.StatusConflict, code: errorCodeAlreadyVoided},
	{target: wallet.ErrDuplicateReference, status: http.StatusConflict, code: errorCodeDuplicateReference},
	{target: wallet.ErrInsufficientBalance, status: http.StatusPaymentRequired, code: errorCodeInsufficientBalance},
	{target: aggregator.ErrInvalidSignature, status: http.StatusUnauthorized, code: errorCodeInvalidSignature},
}

// respondError writes the error envelope for err and logs unexpected failures.
func (server *Server) respondError(ctx *gin.Context, err error) {
	var duplicateError wallet.DuplicateTransactionsError
	if errors.As(err, &duplicateError) {
		body := errorResponse(errorCodeDuplicateBatch, err.Error())
		body["error"].(gin.H)[errorFieldDuplicateReferences] = duplicateError.TransactionIDs
		ctx.JSON(http.StatusConflict, body)
		return
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			ctx.JSON(mapping.status, errorResponse(mapping.code, err.Error()))
			return
		}
	}
	server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "internal error"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
