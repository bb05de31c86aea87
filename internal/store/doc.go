// Package store provides persistent storage for deskbridge using SQLite.
//
// Three entity kinds are persisted:
//
//   - ConversationRecord: the logical end-user conversation linking a
//     web-chat session to its target-platform thread, with lifecycle status
//   - SessionReference: last-write-wins opaque blobs for resuming sends on
//     a channel conversation outside the inbound request context
//   - TargetGroup: routable destinations on the target channel
//
// Conversation records are resolvable by their own id and by either
// channel's foreign conversation id (two secondary indexes). Upserts are
// per-document atomic; the store provides no cross-document transactions,
// so callers must tolerate references lagging records after a crash.
package store
