// Package distribution implements the multi-member content distribution
// protocol: the wire envelope, one-shot request/response over the room
// channel, the guest page view state machine, the size-guarded shared blob
// and the visible-subset mirror.
//
// Delivery is best effort. Every wait is bounded by a fixed timeout and
// no operation retries on its own.
package distribution
