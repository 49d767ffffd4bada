// Package serum decodes the fixed-layout accounts of the serum dex: markets,
// open orders, the critbit slab behind each order book side and the circular
// event queue. Decoders are pure: the same bytes always produce the same
// value, and a buffer of the wrong length is rejected instead of partially
// decoded.
package serum
