// Package viewport coordinates many peers sharing a fixed number of
// viewport slots onto one shared image.
//
// A Server owns the peer registry, the slot pool, the grab lock and the
// image state, and serializes every mutation under a single mutex.
// Transports report connection lifecycle through Open and Close, hand
// decoded commands to Dispatch, and receive update payloads through the
// Sender they supply.
package viewport
