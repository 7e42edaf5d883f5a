package service

import (
	"time"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/network"
)

// AlarmTask polls the chain for new blocks and fans them out to the
// registered callbacks. Block ticks drive every timeout in the protocol,
// so the poll interval bounds how fast expirations are noticed.
type AlarmTask struct {
	callbacks       []AlarmTaskCallback
	chain           *network.BlockchainService
	lastBlockHeight common.BlockHeight
	stopEvent       chan struct{}
	interval        int
}

type AlarmTaskCallback func(blockHeight common.BlockHeight)

func NewAlarmTask(chain *network.BlockchainService) *AlarmTask {
	return &AlarmTask{
		chain:     chain,
		interval:  common.Config.AlarmInterval,
		stopEvent: make(chan struct{}),
	}
}

func (self *AlarmTask) RegisterCallback(callback AlarmTaskCallback) {
	self.callbacks = append(self.callbacks, callback)
}

func (self *AlarmTask) Start() {
	go self.loopUntilStop()
}

func (self *AlarmTask) loopUntilStop() {
	interval := time.Duration(self.interval) * time.Millisecond

	for {
		select {
		case <-self.stopEvent:
			return
		case <-time.After(interval):
			latestBlockHeight, err := self.chain.BlockHeight()
			if err != nil {
				log.Errorf("alarm task poll: %s", err)
				continue
			}

			lastBlockHeight := self.lastBlockHeight
			if latestBlockHeight > lastBlockHeight {
				if latestBlockHeight > lastBlockHeight+1 {
					log.Infof("missing block(s), latest block %d, last block %d",
						latestBlockHeight, lastBlockHeight)
				}
				self.runCallbacks(latestBlockHeight)
			}
		}
	}
}

// FirstRun fires the callbacks once with the current height so the state
// machine starts from a known block before the poll loop begins.
func (self *AlarmTask) FirstRun() error {
	latestBlockHeight, err := self.chain.BlockHeight()
	if err != nil {
		return err
	}
	self.runCallbacks(latestBlockHeight)
	return nil
}

func (self *AlarmTask) runCallbacks(latestBlockHeight common.BlockHeight) {
	log.Debugf("process block %d", latestBlockHeight)
	for _, callback := range self.callbacks {
		callback(latestBlockHeight)
	}
	self.lastBlockHeight = latestBlockHeight
}

func (self *AlarmTask) Stop() {
	close(self.stopEvent)
}

func (self *AlarmTask) GetInterval() int {
	return self.interval
}
