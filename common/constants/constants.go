package constants

const (
	AddrLen   = 20
	HashLen   = 32
	SecretLen = 32

	DefaultSettleTimeout = 500
	DefaultRevealTimeout = 50
)

const (
	DefaultMaxMsgQueue              = 10000
	DefaultAlarmInterval            = 1000 //ms
	DefaultRetryTimeout             = 3000 //ms
	DefaultSnapshotStateChangeCount = 5000

	DefaultConfirmBlockCount = 3
	DefaultSignCacheSize     = 512

	ReqTimeout = 30 //s
)

// wire command ids, part of the signed payloads
const (
	CmdIDProcessed            = 0
	CmdIDSecretRequest        = 3
	CmdIDUnlock               = 4
	CmdIDLockedTransfer       = 7
	CmdIDRefundTransfer       = 8
	CmdIDSecretReveal         = 11
	CmdIDDelivered            = 12
	CmdIDLockExpired          = 13
	CmdIDWithdrawRequest      = 15
	CmdIDWithdrawConfirmation = 16
	CmdIDWithdrawExpired      = 17
)

// on-chain message type ids used in balance proof style payloads
const (
	MessageTypeIDBalanceProof = 1
	MessageTypeIDWithdraw     = 3
)
