package auth

import (
	"fmt"

	"github.com/unkn0wn-root/reqflow/internal/collection"
)

type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
	TransportWS   Transport = "ws"
)

// TransportFor maps a request type onto the transport whose rules apply.
// GraphQL rides on HTTP.
func TransportFor(t collection.RequestType) Transport {
	switch t {
	case collection.TypeGRPC:
		return TransportGRPC
	case collection.TypeWS:
		return TransportWS
	default:
		return TransportHTTP
	}
}

// Matrix is one transport's auth support set. Inert modes may be stored but
// run as none.
type Matrix struct {
	Transport Transport
	allowed   map[collection.AuthMode]bool
	inert     map[collection.AuthMode]bool
}

var matrices = map[Transport]Matrix{
	TransportHTTP: {Transport: TransportHTTP},
	TransportGRPC: {Transport: TransportGRPC, allowed: grpcModes},
	TransportWS:   {Transport: TransportWS, allowed: wsModes, inert: modeSet(collection.AuthOAuth2)},
}

var (
	grpcModes = modeSet(
		collection.AuthBasic, collection.AuthBearer, collection.AuthAPIKey,
		collection.AuthNone, collection.AuthInherit,
	)
	wsModes = modeSet(
		collection.AuthBasic, collection.AuthBearer, collection.AuthAPIKey,
		collection.AuthOAuth2, collection.AuthNone, collection.AuthInherit,
	)
)

func modeSet(modes ...collection.AuthMode) map[collection.AuthMode]bool {
	out := make(map[collection.AuthMode]bool, len(modes))
	for _, m := range modes {
		out[m] = true
	}
	return out
}

// MatrixFor returns the matrix for t. Unknown transports get HTTP rules.
func MatrixFor(t Transport) Matrix {
	if m, ok := matrices[t]; ok {
		return m
	}
	return matrices[TransportHTTP]
}

// Supported reports whether mode may be stored on a request of this transport.
func (m Matrix) Supported(mode collection.AuthMode) bool {
	if m.allowed == nil {
		return true
	}
	return m.allowed[mode]
}

// EffectiveMode is the mode that actually runs.
func (m Matrix) EffectiveMode(mode collection.AuthMode) collection.AuthMode {
	if !m.Supported(mode) || m.inert[mode] {
		return collection.AuthNone
	}
	return mode
}

// CoerceStored rewrites an unsupported explicit mode to none in place. The
// caller persists the change when it reports true. A second call is a no-op.
func (m Matrix) CoerceStored(a *collection.AuthConfig) bool {
	if a == nil || m.Supported(a.Mode) {
		return false
	}
	*a = collection.None()
	return true
}

// Notice is shown when the auth that would run differs from what is stored.
type Notice struct {
	Mode      collection.AuthMode
	Source    Source
	From      string
	Message   string
	Transport Transport
}

// ForExecution decides the auth that runs for eff without touching stored
// config. Unsupported inherited modes and inert modes fall back to none and
// come with a notice.
func (m Matrix) ForExecution(eff Effective) (collection.AuthConfig, *Notice) {
	mode := eff.Auth.Mode
	if m.EffectiveMode(mode) == mode {
		return eff.Auth.Clone(), nil
	}
	n := &Notice{Mode: mode, Source: eff.Source, From: eff.Name, Transport: m.Transport}
	switch {
	case m.inert[mode]:
		n.Message = fmt.Sprintf("%s auth is not yet supported for %s requests", mode, m.Transport)
	case eff.Source == SourceRequest:
		n.Message = fmt.Sprintf("%s auth is not supported for %s requests", mode, m.Transport)
	default:
		n.Message = fmt.Sprintf("%s auth inherited from %s %q is not supported for %s requests", mode, eff.Source, eff.Name, m.Transport)
	}
	return collection.None(), n
}
