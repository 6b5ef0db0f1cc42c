package wallet

const (
	operationWalletTransaction = "wallet_transaction"
	operationSettlement        = "settlement"
	operationLaunch            = "launch"
	operationReset             = "reset"
	operationReconcile         = "reconcile"

	operationStatusOK       = "ok"
	operationStatusRejected = "rejected"
	operationStatusError    = "error"

	errorOperationService = "service"
	errorSubjectAccount   = "account"
	errorSubjectJournal   = "journal"
	errorCodeSave         = "save"
	errorCodeAppend       = "append"
	errorCodeScan         = "scan"

	topUpTransactionPrefix = "topup-"
)
