package common

import (
	"github.com/rivulet-io/rivulet/common/constants"
)

type Configuration struct {
	SettleTimeout     BlockTimeout
	RevealTimeout     BlockTimeout
	ConfirmBlockCount BlockHeight
	AlarmInterval     int //ms
	RetryTimeout      int //ms
	MaxMsgQueue       uint32
	SignCacheSize     uint64
	ReceivingEnabled  bool
}

var Config = DefaultConfig()

func DefaultConfig() *Configuration {
	return &Configuration{
		SettleTimeout:     constants.DefaultSettleTimeout,
		RevealTimeout:     constants.DefaultRevealTimeout,
		ConfirmBlockCount: constants.DefaultConfirmBlockCount,
		AlarmInterval:     constants.DefaultAlarmInterval,
		RetryTimeout:      constants.DefaultRetryTimeout,
		MaxMsgQueue:       constants.DefaultMaxMsgQueue,
		SignCacheSize:     constants.DefaultSignCacheSize,
		ReceivingEnabled:  true,
	}
}
