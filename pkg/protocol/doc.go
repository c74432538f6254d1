// Package protocol defines the wire format exchanged with browser
// clients: JSON frames carrying an analysis name, a signal name, and an
// arbitrary payload object. The framing is symmetric: inbound actions
// and outbound emits use the same shape.
package protocol
