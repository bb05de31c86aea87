// ABOUTME: Package doc for the relay core.
// ABOUTME: Describes the dispatcher, engine, lifecycle controller, and resolver split.

// Package relay implements the conversation relay core: routing messages
// between the web chat widget and the target group-messaging platform,
// and driving each conversation through its lifecycle.
//
// The package splits four concerns:
//
//   - Dispatcher: classifies inbound activities by kind and channel,
//     filters webhook redeliveries, and captures conversation references.
//   - Engine: bidirectional message routing and the related-conversation
//     lookup, including the user-facing notices for unrelated or ended
//     chats.
//   - Controller: lifecycle transitions (start, first answer, end) and
//     their side effects on both channels, including the structured
//     chat-request card.
//   - Resolver: persistence of per-channel conversation references so
//     either side can be proactively messaged later.
//
// The store is the single source of truth for conversation state; the
// relay never keeps conversation state in memory. Notices and
// cross-channel notifications are best-effort: a failed notice is logged,
// while failures on the primary forwarding path propagate so the caller
// can apologize to the sender.
package relay
