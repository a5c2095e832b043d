// Package dosgate provides identity derivation policies.
package dosgate

import (
	"fmt"
	"strconv"
)

// IdentityFunc derives the tracking identity for an exchange. ok reports
// whether the request may be tracked at all; a false return rejects the
// request without admitting it to the table. The empty string is the
// shared global bucket.
type IdentityFunc func(ex *Exchange) (id string, ok bool)

// Identity policy names recognized in configuration.
const (
	IDTypeRemoteAddress     = "remote_address"
	IDTypeRemoteAddressPort = "remote_address_port"
	IDTypeRemotePort        = "remote_port"
	IDTypeConnection        = "connection_id"
)

// IdentityByType returns the policy registered under a configuration name.
// The empty name selects the remote address policy.
func IdentityByType(idType string) (IdentityFunc, error) {
	switch idType {
	case "", IDTypeRemoteAddress:
		return RemoteAddressID, nil
	case IDTypeRemoteAddressPort:
		return RemoteAddressPortID, nil
	case IDTypeRemotePort:
		return RemotePortID, nil
	case IDTypeConnection:
		return ConnectionIDPolicy, nil
	}
	return nil, fmt.Errorf("%w: unknown id type %q", ErrInvalidConfig, idType)
}

// RemoteAddressID keys trackers by remote IP address.
func RemoteAddressID(ex *Exchange) (string, bool) {
	if addr, ok := ex.RemoteAddrPort(); ok {
		return addr.Addr().String(), true
	}
	if ex != nil && ex.Request != nil && ex.Request.RemoteAddr != "" {
		return ex.Request.RemoteAddr, true
	}
	return "", false
}

// RemoteAddressPortID keys trackers by the remote address and port tuple.
func RemoteAddressPortID(ex *Exchange) (string, bool) {
	if addr, ok := ex.RemoteAddrPort(); ok {
		return addr.String(), true
	}
	if ex != nil && ex.Request != nil && ex.Request.RemoteAddr != "" {
		return ex.Request.RemoteAddr, true
	}
	return "", false
}

// RemotePortID keys trackers by remote port alone, for deployments where
// an untrusted intermediary hides the address. Requests without a
// parseable port share the global bucket.
func RemotePortID(ex *Exchange) (string, bool) {
	if addr, ok := ex.RemoteAddrPort(); ok {
		return strconv.Itoa(int(addr.Port())), true
	}
	return "", true
}

// ConnectionIDPolicy keys trackers by the server-assigned connection
// identifier, the strongest per-flow isolation. Requests on connections
// without an identifier are rejected without tracking.
func ConnectionIDPolicy(ex *Exchange) (string, bool) {
	if id := ex.ConnectionID(); id != "" {
		return id, true
	}
	return "", false
}
