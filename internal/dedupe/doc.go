// Package dedupe provides inbound event deduplication using a time-based
// cache, so channel transports that redeliver webhooks (retries on slow
// acknowledgement) never cause a message to be relayed twice.
package dedupe
