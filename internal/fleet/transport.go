package fleet

import "context"

// Session is an opaque authenticated handle to a device, returned by
// DeviceTransport.Open. The engine never inspects its contents; it only
// passes it back to Send and Close.
type Session interface{}

// DeviceTransport is the external collaborator that actually speaks
// SSH/CLI or NETCONF to a device (spec §6: "Device transport"). Calls
// through one Session must be serialized by the caller; DeviceTransport
// implementations are not required to be safe for concurrent Send calls
// on the same Session.
type DeviceTransport interface {
	Open(ctx context.Context, device Device) (Session, error)
	Send(ctx context.Context, session Session, op Operation) (raw string, err error)
	Close(session Session) error
}

// CredentialProvider resolves a credential reference to material used to
// authenticate a session (spec §6: "Credential provider"). The core never
// persists what this returns.
type CredentialProvider interface {
	Resolve(ctx context.Context, ref string) (username, secret string, err error)
}
