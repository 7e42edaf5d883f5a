package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/actor/client"
	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/transfer"
)

// Transport resends every queued message on a fixed interval until the
// matching acknowledgment arrives or a cancellation condition fires. One
// goroutine runs per queue identifier.
type Transport struct {
	messageQueues   *sync.Map // transfer.QueueIdentifier -> *Queue
	messageIDQueues *sync.Map // common.MessageID -> *Queue
	kill            chan struct{}
	blockHeight     func() common.BlockHeight
}

func NewTransport(blockHeight func() common.BlockHeight) *Transport {
	return &Transport{
		messageQueues:   new(sync.Map),
		messageIDQueues: new(sync.Map),
		kill:            make(chan struct{}),
		blockHeight:     blockHeight,
	}
}

// SendAsync queues a message and immediately requests delivery. Queueing a
// message id already in flight is a no-op.
func (self *Transport) SendAsync(queueID transfer.QueueIdentifier, msg messages.Message,
	expiration common.BlockHeight, safetyMargin common.BlockHeight) error {

	messageID := messages.MessageIdentifier(msg)
	if messageID == 0 {
		return errors.Errorf("message %T has no message id", msg)
	}

	queue := self.GetQueue(queueID)
	pushed, duplicate := queue.Push(&QueueItem{
		Message:      msg,
		MessageID:    messageID,
		Expiration:   expiration,
		SafetyMargin: safetyMargin,
	})
	if duplicate {
		log.Debugf("message %d for %v already queued", messageID, queueID.Recipient)
		return nil
	}
	if !pushed {
		return errors.Errorf("queue for %v is full", queueID.Recipient)
	}

	self.messageIDQueues.Store(messageID, queue)
	select {
	case queue.DataCh <- struct{}{}:
	default:
	}
	return nil
}

// Deliver acknowledges a message id, stopping its retry loop.
func (self *Transport) Deliver(messageID common.MessageID) {
	value, ok := self.messageIDQueues.Load(messageID)
	if !ok {
		return
	}
	queue := value.(*Queue)
	select {
	case queue.DeliverChan <- messageID:
	case <-queue.kill:
	case <-self.kill:
	}
}

func (self *Transport) GetQueue(queueID transfer.QueueIdentifier) *Queue {
	value, ok := self.messageQueues.Load(queueID)
	if !ok {
		queue := NewQueue(common.Config.MaxMsgQueue)
		actual, loaded := self.messageQueues.LoadOrStore(queueID, queue)
		if !loaded {
			go self.queueSend(queue, queueID)
		}
		return actual.(*Queue)
	}
	return value.(*Queue)
}

// StopQueue kills one queue's retry loop, used when its channel settles.
func (self *Transport) StopQueue(queueID transfer.QueueIdentifier) {
	if value, ok := self.messageQueues.Load(queueID); ok {
		value.(*Queue).Kill()
		self.messageQueues.Delete(queueID)
	}
}

func (self *Transport) Stop() {
	close(self.kill)
	log.Debug("transport stopped")
}

func (self *Transport) queueSend(queue *Queue, queueID transfer.QueueIdentifier) {
	interval := time.Duration(common.Config.RetryTimeout) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-queue.DataCh:
			timer.Reset(interval)
			self.peekAndSend(queue, queueID)
		case <-timer.C:
			timer.Reset(interval)
			self.dropDoomedItems(queue)
			if queue.Len() == 0 {
				continue
			}
			if err := self.peekAndSend(queue, queueID); err != nil {
				log.Warnf("resend to %v failed: %s", queueID.Recipient, err)
			}
		case messageID := <-queue.DeliverChan:
			item, ok := queue.Peek()
			if !ok {
				continue
			}
			if item.MessageID != messageID {
				// out of order ack, the id may sit deeper in the queue
				if queue.Remove(messageID) {
					self.messageIDQueues.Delete(messageID)
				}
				continue
			}
			queue.Pop()
			self.messageIDQueues.Delete(messageID)
			if queue.Len() > 0 {
				timer.Reset(interval)
				self.peekAndSend(queue, queueID)
			}
		case <-queue.kill:
			return
		case <-self.kill:
			return
		}
	}
}

// dropDoomedItems cancels withdraw retries once fewer than the safety
// margin of blocks remain before their expiration.
func (self *Transport) dropDoomedItems(queue *Queue) {
	if self.blockHeight == nil {
		return
	}
	currentBlock := self.blockHeight()
	for {
		item, ok := queue.Peek()
		if !ok || item.Expiration == 0 ||
			currentBlock+item.SafetyMargin < item.Expiration {
			return
		}
		log.Warnf("dropping message %d, expiration %d too close to block %d",
			item.MessageID, item.Expiration, currentBlock)
		queue.Pop()
		self.messageIDQueues.Delete(item.MessageID)
	}
}

func (self *Transport) peekAndSend(queue *Queue, queueID transfer.QueueIdentifier) error {
	item, ok := queue.Peek()
	if !ok {
		return errors.New("queue is empty")
	}
	return client.P2pSend(queueID.Recipient, item.Message)
}

// Send delivers a message once, outside any retry loop.
func (self *Transport) Send(address common.Address, msg messages.Message) error {
	return client.P2pSend(address, msg)
}
