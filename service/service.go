package service

import (
	"sync"

	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/pkg/errors"
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/common/constants"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/network"
	"github.com/rivulet-io/rivulet/network/transport"
	"github.com/rivulet-io/rivulet/storage"
	"github.com/rivulet-io/rivulet/transfer"
)

var (
	ErrNotStarted             = errors.New("channel service is not started")
	ErrChannelNotFound        = errors.New("no channel with the partner")
	ErrTransferAlreadyPending = errors.New("a transfer with the same payment id is pending")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// PaymentStatus tracks an initiated payment until a terminal event
// resolves it. The paymentDone channel receives exactly one value.
type PaymentStatus struct {
	Target      common.Address
	PaymentID   common.PaymentID
	Amount      common.TokenAmount
	SecretHash  common.SecretHash
	paymentDone chan bool
}

func (self *PaymentStatus) Done() <-chan bool {
	return self.paymentDone
}

type signedCacheEntry struct {
	signature common.Signature
}

func (self *signedCacheEntry) Size() (uint64, error) {
	return 1, nil
}

// workerJob carries one state change through a channel worker. A nil
// state change is a barrier: the worker just acknowledges it, which
// proves everything enqueued before it has been committed.
type workerJob struct {
	stateChange transfer.StateChange
	done        chan []transfer.Event
}

type channelWorker struct {
	jobs chan *workerJob
}

// ChannelService drives the whole protocol: it owns the replicated
// channel state, serializes mutations per channel key, persists every
// state change through the write-ahead log and executes the resulting
// effects (outbound messages, chain transactions, status events).
type ChannelService struct {
	account             *common.Account
	address             common.Address
	chainID             common.ChainID
	tokenAddress        common.TokenAddress
	tokenNetworkAddress common.TokenNetworkAddress

	chain     *network.BlockchainService
	transport *transport.Transport
	alarm     *AlarmTask

	messageHandler      *MessageHandler
	channelEventHandler eventHandler

	databasePath  string
	Wal           *storage.WriteAheadLog
	dispatchLock  sync.Mutex
	snapshotGroup int

	workers sync.Map // transfer.ChannelKey -> *channelWorker
	quit    chan struct{}

	signCache *lru.Cache[common.Keccak256, *signedCacheEntry]

	statusLock      sync.Mutex
	paymentStatuses map[common.Address]map[common.PaymentID]*PaymentStatus

	notificationLock            sync.Mutex
	ReceiveNotificationChannels map[chan *transfer.EventPaymentReceivedSuccess]struct{}

	statusEventLock  sync.Mutex
	statusEventChans map[chan transfer.Event]struct{}
}

func NewChannelService(account *common.Account, chainID common.ChainID,
	tokenAddress common.TokenAddress, tokenNetworkAddress common.TokenNetworkAddress,
	chain *network.BlockchainService, databasePath string) *ChannelService {

	self := &ChannelService{
		account:             account,
		address:             account.Address(),
		chainID:             chainID,
		tokenAddress:        tokenAddress,
		tokenNetworkAddress: tokenNetworkAddress,
		chain:               chain,
		alarm:               NewAlarmTask(chain),
		messageHandler:      &MessageHandler{},
		channelEventHandler: &ChannelEventHandler{},
		databasePath:        databasePath,
		quit:                make(chan struct{}),
		signCache: lru.NewCache[common.Keccak256, *signedCacheEntry](
			common.Config.SignCacheSize),
		paymentStatuses:             make(map[common.Address]map[common.PaymentID]*PaymentStatus),
		ReceiveNotificationChannels: make(map[chan *transfer.EventPaymentReceivedSuccess]struct{}),
		statusEventChans:            make(map[chan transfer.Event]struct{}),
	}
	self.transport = transport.NewTransport(func() common.BlockHeight {
		state := self.StateFromChannel()
		if state == nil {
			return 0
		}
		return transfer.GetBlockHeight(state)
	})
	return self
}

// Start restores persisted state, replays the retry queues and pending
// chain transactions and begins polling for new blocks.
func (self *ChannelService) Start() error {
	sqliteStorage, err := storage.NewSQLiteStorage(self.databasePath)
	if err != nil {
		return err
	}

	stateChangeCount := sqliteStorage.CountStateChanges()
	self.snapshotGroup = stateChangeCount / constants.DefaultSnapshotStateChangeCount

	wal, err := storage.RestoreToLatest(transfer.StateTransition, sqliteStorage)
	if err != nil {
		return err
	}
	self.Wal = wal

	if wal.StateManager.GetCurrentState() == nil {
		blockHeight, err := self.chain.BlockHeight()
		if err != nil {
			return errors.Wrap(err, "query chain height on first start")
		}
		wal.LogAndDispatch(&transfer.ActionInitNode{
			Address:     self.address,
			ChainID:     self.chainID,
			BlockHeight: blockHeight,
		})
		log.Infof("initialized node state at block %d", blockHeight)
	} else {
		log.Infof("restored state up to state change %d", wal.StateChangeID)
	}

	self.alarm.RegisterCallback(self.CallbackNewBlock)
	if err := self.alarm.FirstRun(); err != nil {
		return errors.Wrap(err, "first block poll")
	}

	self.initializePendingTxns()
	self.initializeMessagesQueues()

	self.alarm.Start()
	log.Info("channel service started")
	return nil
}

// Stop halts the block poll, the retry queues and the channel workers,
// then snapshots and closes the database.
func (self *ChannelService) Stop() {
	self.alarm.Stop()
	close(self.quit)
	self.transport.Stop()
	if self.Wal != nil {
		if err := self.Wal.Snapshot(); err != nil {
			log.Errorf("snapshot on stop: %s", err)
		}
		if err := self.Wal.Storage.Close(); err != nil {
			log.Errorf("close storage: %s", err)
		}
	}
	log.Info("channel service stopped")
}

// initializePendingTxns resubmits the chain transactions that were
// outstanding when the node last shut down.
func (self *ChannelService) initializePendingTxns() {
	state := self.StateFromChannel()
	if state == nil {
		return
	}
	for _, event := range transfer.GetPendingTxns(state) {
		self.channelEventHandler.OnChannelEvent(self, event)
	}
}

// initializeMessagesQueues re-arms the retry queues from the persisted
// outbound message events.
func (self *ChannelService) initializeMessagesQueues() {
	state := self.StateFromChannel()
	if state == nil {
		return
	}
	for _, queue := range transfer.GetQueueIDsToQueues(state) {
		for _, event := range queue {
			self.channelEventHandler.OnChannelEvent(self, event)
		}
	}
}

func (self *ChannelService) StateFromChannel() *transfer.ChainState {
	if self.Wal == nil {
		return nil
	}
	chainState, ok := self.Wal.StateManager.GetCurrentState().(*transfer.ChainState)
	if !ok {
		return nil
	}
	return chainState
}

func (self *ChannelService) CallbackNewBlock(blockHeight common.BlockHeight) {
	self.HandleStateChange(&transfer.Block{BlockHeight: blockHeight})
}

// OnMessage feeds an inbound wire message into the protocol. The sender
// is recovered from the signature, the transport address is only a hint.
func (self *ChannelService) OnMessage(message messages.Message, from common.Address) {
	self.messageHandler.OnMessage(self, message)
}

// DispatchToPartner routes a state change to the worker that serializes
// the channel shared with the partner, and waits for the commit.
func (self *ChannelService) DispatchToPartner(partner common.Address,
	stateChange transfer.StateChange) []transfer.Event {

	key := transfer.ChannelKey{
		TokenNetworkAddress: self.tokenNetworkAddress,
		PartnerAddress:      partner,
	}
	return self.enqueue(self.workerFor(key), stateChange)
}

// HandleStateChange applies a channel-independent state change, such as
// a block tick or a chain event. Every channel worker is drained first
// so the change observes a consistent state.
func (self *ChannelService) HandleStateChange(stateChange transfer.StateChange) []transfer.Event {
	self.barrier()
	return self.processStateChange(stateChange)
}

func (self *ChannelService) workerFor(key transfer.ChannelKey) *channelWorker {
	if worker, ok := self.workers.Load(key); ok {
		return worker.(*channelWorker)
	}
	worker := &channelWorker{
		jobs: make(chan *workerJob, constants.DefaultMaxMsgQueue),
	}
	actual, loaded := self.workers.LoadOrStore(key, worker)
	if loaded {
		return actual.(*channelWorker)
	}
	go self.workerLoop(worker)
	return worker
}

func (self *ChannelService) workerLoop(worker *channelWorker) {
	for {
		select {
		case <-self.quit:
			return
		case job := <-worker.jobs:
			var events []transfer.Event
			if job.stateChange != nil {
				events = self.processStateChange(job.stateChange)
			}
			job.done <- events
		}
	}
}

func (self *ChannelService) enqueue(worker *channelWorker,
	stateChange transfer.StateChange) []transfer.Event {

	job := &workerJob{
		stateChange: stateChange,
		done:        make(chan []transfer.Event, 1),
	}
	select {
	case worker.jobs <- job:
	case <-self.quit:
		return nil
	}
	select {
	case events := <-job.done:
		return events
	case <-self.quit:
		return nil
	}
}

func (self *ChannelService) barrier() {
	var pending []*workerJob
	self.workers.Range(func(_, value interface{}) bool {
		worker := value.(*channelWorker)
		job := &workerJob{done: make(chan []transfer.Event, 1)}
		select {
		case worker.jobs <- job:
			pending = append(pending, job)
		case <-self.quit:
			return false
		}
		return true
	})
	for _, job := range pending {
		select {
		case <-job.done:
		case <-self.quit:
			return
		}
	}
}

// processStateChange logs and commits the state change, then runs the
// resulting effects. Only the commit holds the dispatch lock; effects,
// signing included, run outside it so workers for other channel keys
// are never blocked. Per-key effect order is kept by the worker loop.
func (self *ChannelService) processStateChange(stateChange transfer.StateChange) []transfer.Event {
	events := self.commitStateChange(stateChange)
	for _, event := range events {
		self.channelEventHandler.OnChannelEvent(self, event)
	}
	return events
}

func (self *ChannelService) commitStateChange(stateChange transfer.StateChange) []transfer.Event {
	self.dispatchLock.Lock()
	defer self.dispatchLock.Unlock()

	events := self.Wal.LogAndDispatch(stateChange)

	snapshotGroup := self.Wal.StateChangeID / constants.DefaultSnapshotStateChangeCount
	if snapshotGroup > self.snapshotGroup {
		if err := self.Wal.Snapshot(); err != nil {
			log.Errorf("periodic snapshot: %s", err)
		} else {
			self.snapshotGroup = snapshotGroup
		}
	}
	return events
}

// Sign attaches the account signature to an outbound message. Signatures
// are cached by payload digest so retried messages, and acks regenerated
// for re-received messages, do not hit the signer again.
func (self *ChannelService) Sign(message messages.Message) error {
	signed, ok := message.(messages.SignedMessage)
	if !ok {
		return errors.Errorf("%s message is not signable", message.Type())
	}
	if len(signed.GetSignature()) != 0 {
		return nil
	}
	digest := common.Keccak256Hash(signed.DataToSign())
	if entry, err := self.signCache.Get(digest); err == nil {
		signed.SetSignature(entry.signature)
		return nil
	}
	if err := messages.Sign(self.account, signed); err != nil {
		return err
	}
	if _, err := self.signCache.Put(digest, &signedCacheEntry{
		signature: signed.GetSignature(),
	}); err != nil {
		log.Warnf("sign cache put: %s", err)
	}
	return nil
}

// SendDeliveredFor acknowledges an inbound message with a one shot
// Delivered, outside the retry machinery.
func (self *ChannelService) SendDeliveredFor(message messages.Message, sender common.Address) {
	delivered := &messages.Delivered{
		DeliveredMessageID: messages.MessageIdentifier(message),
	}
	if err := self.Sign(delivered); err != nil {
		log.Errorf("sign delivered for %d: %s", delivered.DeliveredMessageID, err)
		return
	}
	if err := self.transport.Send(sender, delivered); err != nil {
		log.Warnf("send delivered to %s: %s", common.ToHex(sender), err)
	}
}

// OpenChannel submits the on-chain open and records the channel in the
// opening state. The channel identifier arrives with the confirmation
// event.
func (self *ChannelService) OpenChannel(partner common.Address) (common.TransactionHash, error) {
	if self.Wal == nil {
		return nil, ErrNotStarted
	}
	txHash, err := self.chain.OpenChannel(self.tokenNetworkAddress, partner,
		common.Config.SettleTimeout)
	if err != nil {
		return nil, err
	}
	self.HandleStateChange(&transfer.ActionChannelOpen{
		TokenAddress:        self.tokenAddress,
		TokenNetworkAddress: self.tokenNetworkAddress,
		PartnerAddress:      partner,
		SettleTimeout:       common.Config.SettleTimeout,
		RevealTimeout:       common.Config.RevealTimeout,
	})
	return txHash, nil
}

// SetTotalDeposit submits a deposit to the channel with the partner. The
// balance only changes once the chain confirms.
func (self *ChannelService) SetTotalDeposit(partner common.Address,
	totalDeposit common.TokenAmount) (common.TransactionHash, error) {

	channel, err := self.channelWith(partner)
	if err != nil {
		return nil, err
	}
	return self.chain.SetTotalDeposit(self.tokenNetworkAddress,
		channel.Identifier, partner, totalDeposit)
}

// CloseChannel force closes the channel with the partner, submitting the
// partner's latest balance proof.
func (self *ChannelService) CloseChannel(partner common.Address) error {
	channel, err := self.channelWith(partner)
	if err != nil {
		return err
	}
	self.HandleStateChange(&transfer.ActionChannelClose{
		ChannelID: channel.Identifier,
	})
	return nil
}

// Withdraw starts the cooperative withdraw handshake with the partner.
// The outcome surfaces as a status event.
func (self *ChannelService) Withdraw(partner common.Address,
	totalWithdraw common.TokenAmount) error {

	if _, err := self.channelWith(partner); err != nil {
		return err
	}
	self.HandleStateChange(&transfer.ActionWithdraw{
		TokenNetworkAddress: self.tokenNetworkAddress,
		PartnerAddress:      partner,
		TotalWithdraw:       totalWithdraw,
	})
	return nil
}

// TransferAsync starts a payment to the target and returns a channel that
// receives true on success or false on a terminal failure.
func (self *ChannelService) TransferAsync(target common.Address,
	amount common.TokenAmount, paymentID common.PaymentID) (<-chan bool, error) {

	if _, err := self.channelWith(target); err != nil {
		return nil, err
	}
	if common.AmountOrZero(amount).Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if paymentID == 0 {
		paymentID = common.PaymentID(common.GetMsgID())
	}

	secret := common.RandomSecret()
	secretHash := common.GetSecretHash(secret)

	status := &PaymentStatus{
		Target:      target,
		PaymentID:   paymentID,
		Amount:      amount,
		SecretHash:  secretHash,
		paymentDone: make(chan bool, 1),
	}
	if err := self.RegisterPaymentStatus(target, paymentID, status); err != nil {
		return nil, err
	}

	self.DispatchToPartner(target, &transfer.ActionTransferInit{
		TokenNetworkAddress: self.tokenNetworkAddress,
		PartnerAddress:      target,
		Target:              target,
		PaymentID:           paymentID,
		Amount:              amount,
		Secret:              secret,
		SecretHash:          secretHash,
		Routes: []transfer.RouteState{
			{Route: []common.Address{self.address, target}},
		},
	})
	return status.paymentDone, nil
}

func (self *ChannelService) channelWith(partner common.Address) (*transfer.ChannelState, error) {
	state := self.StateFromChannel()
	if state == nil {
		return nil, ErrNotStarted
	}
	channel := transfer.GetChannelStateFor(state, self.tokenNetworkAddress, partner)
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	return channel, nil
}

func (self *ChannelService) RegisterPaymentStatus(target common.Address,
	paymentID common.PaymentID, status *PaymentStatus) error {

	self.statusLock.Lock()
	defer self.statusLock.Unlock()
	byID, ok := self.paymentStatuses[target]
	if !ok {
		byID = make(map[common.PaymentID]*PaymentStatus)
		self.paymentStatuses[target] = byID
	}
	if _, exist := byID[paymentID]; exist {
		return ErrTransferAlreadyPending
	}
	byID[paymentID] = status
	return nil
}

func (self *ChannelService) GetPaymentStatus(target common.Address,
	paymentID common.PaymentID) (*PaymentStatus, bool) {

	self.statusLock.Lock()
	defer self.statusLock.Unlock()
	status, exist := self.paymentStatuses[target][paymentID]
	return status, exist
}

func (self *ChannelService) RemovePaymentStatus(target common.Address,
	paymentID common.PaymentID) {

	self.statusLock.Lock()
	defer self.statusLock.Unlock()
	delete(self.paymentStatuses[target], paymentID)
}

// RegisterReceiveNotification subscribes the caller to incoming payment
// notifications. The channel should be buffered, full channels are
// skipped.
func (self *ChannelService) RegisterReceiveNotification(
	notification chan *transfer.EventPaymentReceivedSuccess) {

	self.notificationLock.Lock()
	defer self.notificationLock.Unlock()
	self.ReceiveNotificationChannels[notification] = struct{}{}
}

func (self *ChannelService) UnregisterReceiveNotification(
	notification chan *transfer.EventPaymentReceivedSuccess) {

	self.notificationLock.Lock()
	defer self.notificationLock.Unlock()
	delete(self.ReceiveNotificationChannels, notification)
}

// SubscribeStatusEvents streams channel lifecycle and payment outcome
// events. Slow subscribers lose events rather than block the engine.
func (self *ChannelService) SubscribeStatusEvents() chan transfer.Event {
	self.statusEventLock.Lock()
	defer self.statusEventLock.Unlock()
	subscription := make(chan transfer.Event, constants.DefaultMaxMsgQueue)
	self.statusEventChans[subscription] = struct{}{}
	return subscription
}

func (self *ChannelService) UnsubscribeStatusEvents(subscription chan transfer.Event) {
	self.statusEventLock.Lock()
	defer self.statusEventLock.Unlock()
	delete(self.statusEventChans, subscription)
}

func (self *ChannelService) notifyStatusEvent(event transfer.Event) {
	self.statusEventLock.Lock()
	defer self.statusEventLock.Unlock()
	for subscription := range self.statusEventChans {
		select {
		case subscription <- event:
		default:
			log.Warn("status event subscriber full, event dropped")
		}
	}
}
