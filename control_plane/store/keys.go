package store

import "fmt"

// ActivityKey is the Redis key holding last_access_at for one workspace,
// per spec §6: `last_access:{id}`, string value = unix seconds.
func ActivityKey(workspaceID string) string {
	return fmt.Sprintf("last_access:%s", workspaceID)
}

// ActivityKeyPrefix is the scan pattern the activity flush/sync uses.
const ActivityKeyPrefix = "last_access:"

// WakeStreamKey is the coordinator wake stream (§4.B/§6): field `target`
// in {"ob","wc","gc"}, MAXLEN ~ 100, consumer group "coordinators".
const WakeStreamKey = "stream:wake"

// WakeConsumerGroup is the shared consumer group name for all coordinators.
const WakeConsumerGroup = "coordinators"

// EventsStreamKey is the per-user SSE stream (§4.B/§6): field `data` = JSON
// payload, MAXLEN ~ 1000.
func EventsStreamKey(ownerUserID string) string {
	return fmt.Sprintf("events:%s", ownerUserID)
}

// WakeTarget is the coordinator role a wake message is addressed to.
type WakeTarget string

const (
	WakeTargetObserver  WakeTarget = "ob"
	WakeTargetWC        WakeTarget = "wc"
	WakeTargetScheduler WakeTarget = "gc"
)
