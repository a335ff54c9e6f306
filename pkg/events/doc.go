// Package events is an in-memory, best-effort pub/sub broker over a
// runtime's activity: turns executed, reactions fired, branches forked or
// switched, time travel performed. Publish never blocks; a subscriber
// whose buffer is full simply misses events rather than stalling the
// runtime. It is a live-watch complement to pkg/dataspace's
// assertion_events_since, not a replacement for it: nothing published
// here is persisted or replayable.
package events
