package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultTopUpCurrency = "USD"

// readJSON decodes the request body into target and returns the raw bytes.
// It writes a 400 response and returns false when the body is not a JSON object.
func readJSON(ctx *gin.Context, target any) ([]byte, bool) {
	body, err := ctx.GetRawData()
	if err == nil {
		trimmed := strings.TrimSpace(string(body))
		if !strings.HasPrefix(trimmed, "{") {
			err = errors.New("expected a JSON object")
		} else {
			err = json.Unmarshal(body, target)
		}
	}
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidJSON, "invalid JSON body"))
		return nil, false
	}
	return body, true
}

// agentCode falls back to the configured agent when a request names none.
func (server *Server) agentCode(requested string) string {
	if strings.TrimSpace(requested) == "" {
		return server.cfg.AgentCode
	}
	return requested
}

func (server *Server) handleLaunch(ctx *gin.Context) {
	var request launchRequest
	if _, ok := readJSON(ctx, &request); !ok {
		return
	}
	request.AgentCode = server.agentCode(request.AgentCode)
	if field := request.missingField(); field != "" {
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse(errorCodeInvalidField, "missing or invalid field: "+field))
		return
	}
	betLimit, hasBetLimit, err := request.betLimit()
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse(errorCodeInvalidField, "invalid field: bet_limit"))
		return
	}
	accountID, err := wallet.NewAccountID(request.PlayerAccount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	account, err := server.service.IssueSessionToken(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}

	traceID := strings.TrimSpace(request.TraceID)
	if traceID == "" {
		traceID = server.newTraceID()
	}
	launch := map[string]any{
		"agent_code":     request.AgentCode,
		"player_account": accountID.String(),
		"provider_code":  request.ProviderCode,
		"game_code":      request.GameCode,
		"currency":       request.Currency,
		"token":          account.SessionToken,
		"lang":           request.Lang,
	}
	if hasBetLimit {
		launch["bet_limit"] = betLimit
	}
	response, err := server.aggregator.LaunchGame(ctx.Request.Context(), traceID, launch)
	server.metrics.observeAggregator(response.Status, err)
	if err != nil && response.Body == nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"trace_id":            traceID,
		"request":             launch,
		"aggregator_status":   response.Status,
		"aggregator_response": response.Body,
	})
}

func (server *Server) handleTopUp(ctx *gin.Context) {
	var request topUpRequest
	if _, ok := readJSON(ctx, &request); !ok {
		return
	}
	accountID, err := wallet.NewAccountID(request.PlayerAccount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if !request.Amount.set {
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse(errorCodeInvalidField, "missing or invalid field: amount"))
		return
	}
	amountMinor, err := wallet.MinorFromMajor(request.Amount.text)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if amountMinor <= 0 {
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse(errorCodeInvalidField, "amount must be greater than 0"))
		return
	}
	currency := strings.TrimSpace(request.Currency)
	if currency == "" {
		currency = defaultTopUpCurrency
	}
	result, err := server.service.TopUp(ctx.Request.Context(), accountID, amountMinor, currency)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_account": accountID.String(),
		"balance":        result.BalanceMajor,
		"balance_minor":  result.BalanceMinor,
		"transaction_id": result.Entry.TransactionID,
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	var request accountRequest
	if _, ok := readJSON(ctx, &request); !ok {
		return
	}
	accountID, err := wallet.NewAccountID(request.PlayerAccount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	view, err := server.service.QueryBalance(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var token any
	if view.SessionToken != "" {
		token = view.SessionToken
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_account": accountID.String(),
		"balance":        view.BalanceMajor,
		"balance_minor":  view.BalanceMinor,
		"token":          token,
	})
}

func (server *Server) handleHybridTransaction(ctx *gin.Context) {
	var request hybridTransactionRequest
	if _, ok := readJSON(ctx, &request); !ok {
		return
	}
	request.AgentCode = server.agentCode(request.AgentCode)
	transaction, err := request.toWalletTransaction()
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.service.ApplyWalletTransaction(ctx.Request.Context(), transaction)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_account": transaction.AccountID.String(),
		"balance":        result.BalanceMajor,
		"balance_minor":  result.BalanceMinor,
		"transaction":    result.Entry,
	})
}

func (server *Server) handleTransactionStatus(ctx *gin.Context) {
	var request transactionStatusRequest
	if _, ok := readJSON(ctx, &request); !ok {
		return
	}
	var accountID wallet.AccountID
	if strings.TrimSpace(request.PlayerAccount) != "" {
		parsed, err := wallet.NewAccountID(request.PlayerAccount)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		accountID = parsed
	}
	transactionID, err := wallet.NewTransactionID(request.TransactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	record, err := server.service.QueryTransaction(ctx.Request.Context(), accountID, transactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_account": record.AccountID.String(),
		"transaction":    record.Entry,
	})
}

func (server *Server) handleListTransactions(stream wallet.Stream) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var request accountRequest
		if _, ok := readJSON(ctx, &request); !ok {
			return
		}
		accountID, err := wallet.NewAccountID(request.PlayerAccount)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		history, err := server.service.ListTransactions(ctx.Request.Context(), accountID, stream)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		var transactions any = history.Hybrid
		if stream == wallet.StreamCallback {
			transactions = history.Callbacks
		}
		ctx.JSON(http.StatusOK, gin.H{
			"player_account": accountID.String(),
			"stream":         stream,
			"transactions":   transactions,
		})
	}
}

func (server *Server) handleResetTransactions(stream wallet.Stream) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var request accountRequest
		if _, ok := readJSON(ctx, &request); !ok {
			return
		}
		accountID, err := wallet.NewAccountID(request.PlayerAccount)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		deleted, err := server.service.ResetTransactions(ctx.Request.Context(), accountID, stream)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"player_account": accountID.String(),
			"stream":         stream,
			"deleted":        deleted,
		})
	}
}

func (server *Server) handleCallback(ctx *gin.Context) {
	action, err := wallet.ParseCallbackAction(ctx.Param("action"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeNotFound, fmt.Sprintf("unknown callback %q", ctx.Param("action"))))
		return
	}
	var request callbackRequest
	body, ok := readJSON(ctx, &request)
	if !ok {
		return
	}
	if server.cfg.VerifyCallbackSignature {
		if err := server.aggregator.Signer().Verify(body); err != nil {
			server.metrics.rejectedSignatures.Inc()
			server.logger.Warn("callback signature rejected", zap.String("action", action.String()), zap.Error(err))
			server.respondError(ctx, err)
			return
		}
	}
	batch, err := request.toSettlementBatch(action, body)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.service.ApplySettlementBatch(ctx.Request.Context(), batch)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_account":   batch.AccountID.String(),
		"action":           action,
		"balance":          result.BalanceMajor,
		"balance_minor":    result.BalanceMinor,
		"adjustment_minor": result.Entry.AdjustmentMinor,
		"transaction_ids":  result.Entry.TransactionIDs,
	})
}
