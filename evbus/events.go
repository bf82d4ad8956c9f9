package evbus

import "github.com/derkalaender/meshnow-go/meshaddr"

// InternalBase groups every event private to the control plane
// (spec.md §4.4/§4.8); ExternalBase is the "named public event base"
// spec.md §6 exposes to the embedding application.
const (
	InternalBase = "meshnow.internal"
	ExternalBase = "meshnow.external"
)

// Internal event IDs, published and consumed entirely within this
// module.
const (
	EvStateChanged = iota
	EvParentFound
	EvGotConnectResponse
)

// External event IDs, spec.md §6's "external event surface."
const (
	EvParentConnected = iota
	EvParentDisconnected
)

// ParentFound is published by pkthandler on an unsolicited SearchReply
// and consumed by job.ConnectJob's Search phase (spec.md §4.8).
type ParentFound struct {
	Addr meshaddr.Address
	RSSI int8
}

// GotConnectResponse is published by pkthandler on ConnectOk and
// consumed by job.ConnectJob's Connect phase (spec.md §4.8/§4.13).
type GotConnectResponse struct {
	Addr meshaddr.Address
	Root meshaddr.Address
}

// ParentConnected/ParentDisconnected are the two payloads posted on
// ExternalBase (spec.md §6).
type ParentConnected struct{ Parent meshaddr.Address }
type ParentDisconnected struct{ Parent meshaddr.Address }
