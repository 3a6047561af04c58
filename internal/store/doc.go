// Package store keeps the latest polling state and fans it out to
// subscribers.
//
// The store holds two views of a running task:
//
//   - [CycleStatus]: the outcome of the most recent read cycle
//   - [ChannelValue]: the most recent sample of every channel
//
// Read cycles may produce partial frames; values for channels missing from
// a cycle are kept from earlier cycles. Subscribers receive every cycle via
// non-blocking sends, so a slow subscriber misses updates rather than
// stalling the read loop.
package store
