package redis

import (
	"fmt"
	"strings"
)

const (
	// EventBalancesSynced is published after a batch of heights has been synced.
	EventBalancesSynced = "balances.synced"
	channelPrefix       = "balanceblocks"
)

// BalancesSynced is the payload of EventBalancesSynced.
type BalancesSynced struct {
	ChainID    uint64   `json:"chainId"`
	FromHeight uint64   `json:"fromHeight"`
	ToHeight   uint64   `json:"toHeight"`
	Addresses  []string `json:"addresses"`
}

// Channel returns the Pub/Sub channel of an event for a chain, e.g. balanceblocks:1:balances.synced.
func Channel(chainID uint64, event string) string {
	return fmt.Sprintf("%s:%d:%s", channelPrefix, chainID, event)
}

// EventFromChannel extracts the event name from a channel, or "" if the channel is not ours.
func EventFromChannel(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[0] != channelPrefix {
		return ""
	}
	return parts[2]
}

// CacheKey returns the cache key of a balance-block query.
func CacheKey(chainID uint64, address string, start, end uint64) string {
	return fmt.Sprintf("%s:%d:bb:%s:%d:%d", channelPrefix, chainID, address, start, end)
}

// AddressCachePattern matches every cached query of an address.
func AddressCachePattern(chainID uint64, address string) string {
	return fmt.Sprintf("%s:%d:bb:%s:*", channelPrefix, chainID, address)
}
