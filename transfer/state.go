package transfer

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/common"
)

const (
	ChannelStateOpening    = "opening"
	ChannelStateOpen       = "open"
	ChannelStateClosing    = "closing"
	ChannelStateClosed     = "closed"
	ChannelStateSettleable = "settleable"
	ChannelStateSettling   = "settling"
	ChannelStateSettled    = "settled"
)

const (
	TxnExecSucceeded = "success"
	TxnExecFailed    = "failure"
)

type BalanceProofUnsignedState struct {
	Nonce               common.Nonce
	TransferredAmount   common.TokenAmount
	LockedAmount        common.TokenAmount
	Locksroot           common.Locksroot
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	ChainID             common.ChainID
}

type BalanceProofSignedState struct {
	Nonce               common.Nonce
	TransferredAmount   common.TokenAmount
	LockedAmount        common.TokenAmount
	Locksroot           common.Locksroot
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	ChainID             common.ChainID
	MessageHash         common.AdditionalHash
	Signature           common.Signature
	Sender              common.Address
}

func (self *BalanceProofSignedState) Clone() *BalanceProofSignedState {
	if self == nil {
		return nil
	}
	clone := *self
	clone.TransferredAmount = common.CloneAmount(self.TransferredAmount)
	clone.LockedAmount = common.CloneAmount(self.LockedAmount)
	clone.MessageHash = append(common.AdditionalHash{}, self.MessageHash...)
	clone.Signature = append(common.Signature{}, self.Signature...)
	return &clone
}

// HashTimeLockState is immutable once created, its identity is the
// secrethash.
type HashTimeLockState struct {
	Amount     common.TokenAmount
	Expiration common.BlockHeight
	SecretHash common.SecretHash
}

func (self *HashTimeLockState) Clone() *HashTimeLockState {
	if self == nil {
		return nil
	}
	return &HashTimeLockState{
		Amount:     common.CloneAmount(self.Amount),
		Expiration: self.Expiration,
		SecretHash: self.SecretHash,
	}
}

type UnlockPartialProofState struct {
	Lock   *HashTimeLockState
	Secret common.Secret
}

type TransactionExecutionStatus struct {
	StartedBlockHeight  common.BlockHeight
	FinishedBlockHeight common.BlockHeight
	Result              string
}

// TransactionChannelDeposit is one confirmed setTotalDeposit event, queued
// so deposits are applied in block order regardless of delivery order.
type TransactionChannelDeposit struct {
	ParticipantAddress common.Address
	ContractBalance    common.TokenAmount
	DepositBlockHeight common.BlockHeight
}

type DepositTransactionQueue []TransactionChannelDeposit

func (self DepositTransactionQueue) Len() int      { return len(self) }
func (self DepositTransactionQueue) Swap(i, j int) { self[i], self[j] = self[j], self[i] }
func (self DepositTransactionQueue) Less(i, j int) bool {
	return self[i].DepositBlockHeight < self[j].DepositBlockHeight
}

func (self DepositTransactionQueue) Push(deposit TransactionChannelDeposit) DepositTransactionQueue {
	queue := append(self, deposit)
	sort.Stable(queue)
	return queue
}

// PendingWithdrawState tracks one side's in-flight cooperative withdraw.
type PendingWithdrawState struct {
	TotalWithdraw common.TokenAmount
	Expiration    common.BlockHeight
	Nonce         common.Nonce
	MessageID     common.MessageID
	// nonce our confirmation consumed, kept so a retried request gets
	// the identical confirmation back
	ConfirmationNonce common.Nonce
}

type ChannelEndState struct {
	Address                            common.Address
	ContractBalance                    common.TokenAmount
	TotalWithdraw                      common.TokenAmount
	PendingLocks                       []*HashTimeLockState
	SecretHashesToLockedLocks          map[common.SecretHash]*HashTimeLockState
	SecretHashesToUnlockedLocks        map[common.SecretHash]*UnlockPartialProofState
	SecretHashesToOnChainUnlockedLocks map[common.SecretHash]*UnlockPartialProofState
	BalanceProof                       *BalanceProofSignedState
}

func NewChannelEndState(address common.Address, balance common.TokenAmount) *ChannelEndState {
	return &ChannelEndState{
		Address:                            address,
		ContractBalance:                    common.AmountOrZero(balance),
		TotalWithdraw:                      new(big.Int),
		SecretHashesToLockedLocks:          make(map[common.SecretHash]*HashTimeLockState),
		SecretHashesToUnlockedLocks:        make(map[common.SecretHash]*UnlockPartialProofState),
		SecretHashesToOnChainUnlockedLocks: make(map[common.SecretHash]*UnlockPartialProofState),
	}
}

func (self *ChannelEndState) GetContractBalance() common.TokenAmount {
	return common.AmountOrZero(self.ContractBalance)
}

func (self *ChannelEndState) GetTotalWithdraw() common.TokenAmount {
	return common.AmountOrZero(self.TotalWithdraw)
}

// GetTransferredAmount returns the cumulative transferred amount asserted by
// this end's latest balance proof, zero when no payment happened yet.
func (self *ChannelEndState) GetTransferredAmount() common.TokenAmount {
	if self.BalanceProof != nil {
		return common.AmountOrZero(self.BalanceProof.TransferredAmount)
	}
	return new(big.Int)
}

func (self *ChannelEndState) GetLockedAmount() common.TokenAmount {
	if self.BalanceProof != nil {
		return common.AmountOrZero(self.BalanceProof.LockedAmount)
	}
	return new(big.Int)
}

// AmountLocked recomputes the locked amount from the pending lock list.
func (self *ChannelEndState) AmountLocked() common.TokenAmount {
	total := new(big.Int)
	for _, lock := range self.PendingLocks {
		total.Add(total, common.AmountOrZero(lock.Amount))
	}
	return total
}

func (self *ChannelEndState) GetNextNonce() common.Nonce {
	if self.BalanceProof != nil {
		return self.BalanceProof.Nonce + 1
	}
	return 1
}

func (self *ChannelEndState) GetLock(secretHash common.SecretHash) *HashTimeLockState {
	lock, exist := self.SecretHashesToLockedLocks[secretHash]
	if !exist {
		if partial, ok := self.SecretHashesToUnlockedLocks[secretHash]; ok {
			lock = partial.Lock
		} else if partial, ok := self.SecretHashesToOnChainUnlockedLocks[secretHash]; ok {
			lock = partial.Lock
		}
	}
	return lock
}

func (self *ChannelEndState) IsSecretKnown(secretHash common.SecretHash) bool {
	_, offChain := self.SecretHashesToUnlockedLocks[secretHash]
	_, onChain := self.SecretHashesToOnChainUnlockedLocks[secretHash]
	return offChain || onChain
}

func (self *ChannelEndState) GetSecret(secretHash common.SecretHash) (common.Secret, error) {
	if partial, ok := self.SecretHashesToUnlockedLocks[secretHash]; ok {
		return partial.Secret, nil
	}
	if partial, ok := self.SecretHashesToOnChainUnlockedLocks[secretHash]; ok {
		return partial.Secret, nil
	}
	return nil, errors.New("secret is unknown")
}

type ChannelState struct {
	Identifier              common.ChannelID
	ChainID                 common.ChainID
	TokenAddress            common.TokenAddress
	TokenNetworkAddress     common.TokenNetworkAddress
	RevealTimeout           common.BlockTimeout
	SettleTimeout           common.BlockTimeout
	OurState                *ChannelEndState
	PartnerState            *ChannelEndState
	DepositTransactionQueue DepositTransactionQueue
	OpenTransaction         *TransactionExecutionStatus
	CloseTransaction        *TransactionExecutionStatus
	SettleTransaction       *TransactionExecutionStatus
	OurPendingWithdraw      *PendingWithdrawState
	PartnerPendingWithdraw  *PendingWithdrawState
}

func (self *ChannelState) StateInterface() {}

func (self *ChannelState) GetIdentifier() common.ChannelID {
	return self.Identifier
}

func (self *ChannelState) OurAddress() common.Address {
	return self.OurState.Address
}

func (self *ChannelState) PartnerAddress() common.Address {
	return self.PartnerState.Address
}

func (self *ChannelState) Key() ChannelKey {
	return ChannelKey{
		TokenNetworkAddress: self.TokenNetworkAddress,
		PartnerAddress:      self.PartnerState.Address,
	}
}

// GetStatus derives the lifecycle state from the recorded transactions and
// never stores it separately, so the status cannot drift from the facts.
func (self *ChannelState) GetStatus() string {
	result := ChannelStateOpening

	if self.OpenTransaction != nil && self.OpenTransaction.Result == TxnExecSucceeded {
		result = ChannelStateOpen
	}
	if self.CloseTransaction != nil {
		finishedSuccessfully := self.CloseTransaction.Result == TxnExecSucceeded
		running := self.CloseTransaction.FinishedBlockHeight == 0
		if finishedSuccessfully {
			result = ChannelStateClosed
		} else if running {
			result = ChannelStateClosing
		}
	}
	if self.SettleTransaction != nil {
		finishedSuccessfully := self.SettleTransaction.Result == TxnExecSucceeded
		running := self.SettleTransaction.FinishedBlockHeight == 0
		if finishedSuccessfully {
			result = ChannelStateSettled
		} else if running {
			result = ChannelStateSettling
		}
	}
	return result
}

func (self *ChannelState) CloseBlockHeight() common.BlockHeight {
	if self.CloseTransaction != nil {
		return self.CloseTransaction.FinishedBlockHeight
	}
	return 0
}

// ChannelKey is the channel identity before an on-chain id exists.
type ChannelKey struct {
	TokenNetworkAddress common.TokenNetworkAddress
	PartnerAddress      common.Address
}

func (self ChannelKey) MarshalText() ([]byte, error) {
	text := hex.EncodeToString(self.TokenNetworkAddress[:]) + ":" +
		hex.EncodeToString(self.PartnerAddress[:])
	return []byte(text), nil
}

func (self *ChannelKey) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 2 {
		return errors.Errorf("invalid channel key %q", text)
	}
	tokenNetwork, err := hex.DecodeString(parts[0])
	if err != nil || len(tokenNetwork) != len(self.TokenNetworkAddress) {
		return errors.Errorf("invalid channel key token network %q", parts[0])
	}
	partner, err := hex.DecodeString(parts[1])
	if err != nil || len(partner) != len(self.PartnerAddress) {
		return errors.Errorf("invalid channel key partner %q", parts[1])
	}
	copy(self.TokenNetworkAddress[:], tokenNetwork)
	copy(self.PartnerAddress[:], partner)
	return nil
}

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// TransferKey identifies one transfer state machine instance.
type TransferKey struct {
	SecretHash common.SecretHash
	Direction  string
}

func (self TransferKey) MarshalText() ([]byte, error) {
	return []byte(self.Direction + ":" + hex.EncodeToString(self.SecretHash[:])), nil
}

func (self *TransferKey) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 2 || (parts[0] != DirectionSent && parts[0] != DirectionReceived) {
		return errors.Errorf("invalid transfer key %q", text)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) != len(self.SecretHash) {
		return errors.Errorf("invalid transfer key secrethash %q", parts[1])
	}
	self.Direction = parts[0]
	copy(self.SecretHash[:], raw)
	return nil
}

type RouteState struct {
	Route []common.Address
}

type LockedTransferSignedState struct {
	MessageID    common.MessageID
	PaymentID    common.PaymentID
	Token        common.TokenAddress
	BalanceProof *BalanceProofSignedState
	Lock         *HashTimeLockState
	Initiator    common.Address
	Target       common.Address
	Routes       []RouteState
}

const (
	TransferStatusPending   = "pending"
	TransferStatusReceived  = "received"
	TransferStatusRevealed  = "revealed"
	TransferStatusUnlocking = "unlocking"
	TransferStatusUnlocked  = "unlocked"
	TransferStatusExpiring  = "expiring"
	TransferStatusExpired   = "expired"
	TransferStatusClosed    = "closed"
	TransferStatusRefunded  = "refunded"
	TransferStatusFailed    = "failed"
)

// TransferState accumulates the protocol milestones of one transfer. Every
// field past Transfer is optional and set at most once.
type TransferState struct {
	Key                   TransferKey
	ChannelKey            ChannelKey
	ChannelID             common.ChannelID
	Transfer              *LockedTransferSignedState
	TransferProcessed     bool
	Secret                common.Secret
	SecretRevealed        bool
	SecretRegisteredBlock common.BlockHeight
	Unlock                *BalanceProofSignedState
	UnlockMessageID       common.MessageID
	UnlockProcessed       bool
	LockExpired           *BalanceProofSignedState
	ExpiredMessageID      common.MessageID
	ExpiredProcessed      bool
	RegisterRequested     bool
	ChannelClosed         bool
	Refunded              bool
	ClearedBlock          common.BlockHeight
}

func (self *TransferState) StateInterface() {}

// Status derives the lifecycle phase from the recorded milestones.
func (self *TransferState) Status() string {
	switch {
	case self.Refunded:
		return TransferStatusFailed
	case self.ChannelClosed && self.Unlock == nil && self.SecretRegisteredBlock == 0:
		return TransferStatusClosed
	case self.LockExpired != nil && self.ExpiredProcessed:
		return TransferStatusExpired
	case self.LockExpired != nil:
		return TransferStatusExpiring
	case self.Unlock != nil && self.UnlockProcessed:
		return TransferStatusUnlocked
	case self.Unlock != nil:
		return TransferStatusUnlocking
	case self.Secret != nil:
		return TransferStatusRevealed
	case self.TransferProcessed:
		return TransferStatusReceived
	default:
		return TransferStatusPending
	}
}

func (self *TransferState) IsTerminal() bool {
	switch self.Status() {
	case TransferStatusUnlocked, TransferStatusExpired, TransferStatusClosed, TransferStatusFailed:
		return true
	}
	return false
}

// RegisteredSecret is one entry of the append-only secret registry.
type RegisteredSecret struct {
	Secret        common.Secret
	RegisterBlock common.BlockHeight
}

// QueueIdentifier keys one outbound retry queue.
type QueueIdentifier struct {
	Recipient common.Address
	ChannelID common.ChannelID
}

func (self QueueIdentifier) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%d", hex.EncodeToString(self.Recipient[:]), self.ChannelID)), nil
}

func (self *QueueIdentifier) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 2 {
		return errors.Errorf("invalid queue identifier %q", text)
	}
	recipient, err := hex.DecodeString(parts[0])
	if err != nil || len(recipient) != len(self.Recipient) {
		return errors.Errorf("invalid queue recipient %q", parts[0])
	}
	var channelID uint64
	if _, err := fmt.Sscanf(parts[1], "%d", &channelID); err != nil {
		return errors.Errorf("invalid queue channel id %q", parts[1])
	}
	copy(self.Recipient[:], recipient)
	self.ChannelID = common.ChannelID(channelID)
	return nil
}

// ChainState is the single mutable aggregate. Only the service commits to
// it, everything below operates on it through transition functions.
type ChainState struct {
	Address          common.Address
	ChainID          common.ChainID
	BlockHeight      common.BlockHeight
	Channels         map[ChannelKey]*ChannelState
	ChannelsByID     map[common.ChannelID]ChannelKey
	Transfers        map[TransferKey]*TransferState
	SecretRegistry   map[common.SecretHash]*RegisteredSecret
	QueueIdsToQueues map[QueueIdentifier]EventList
	PendingTxns      EventList
}

func (self *ChainState) StateInterface() {}

func NewChainState(address common.Address, chainID common.ChainID) *ChainState {
	return &ChainState{
		Address:          address,
		ChainID:          chainID,
		Channels:         make(map[ChannelKey]*ChannelState),
		ChannelsByID:     make(map[common.ChannelID]ChannelKey),
		Transfers:        make(map[TransferKey]*TransferState),
		SecretRegistry:   make(map[common.SecretHash]*RegisteredSecret),
		QueueIdsToQueues: make(map[QueueIdentifier]EventList),
	}
}

func (self *ChainState) GetChannel(key ChannelKey) *ChannelState {
	return self.Channels[key]
}

func (self *ChainState) GetChannelByID(channelID common.ChannelID) *ChannelState {
	key, exist := self.ChannelsByID[channelID]
	if !exist {
		return nil
	}
	return self.Channels[key]
}

func (self *ChainState) GetTransfer(key TransferKey) *TransferState {
	return self.Transfers[key]
}

// RegisterSecret records a revealed secret, already-registered entries are
// never overwritten.
func (self *ChainState) RegisterSecret(secret common.Secret, registerBlock common.BlockHeight) {
	secretHash := common.GetSecretHash(secret)
	if registered, exist := self.SecretRegistry[secretHash]; exist {
		if registerBlock != 0 && registered.RegisterBlock == 0 {
			registered.RegisterBlock = registerBlock
		}
		return
	}
	self.SecretRegistry[secretHash] = &RegisteredSecret{
		Secret:        secret,
		RegisterBlock: registerBlock,
	}
}
