package grpcclient

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/unkn0wn-root/reqflow/internal/auth"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

type metaSrc string

const (
	metaSrcAuth   metaSrc = "auth"
	metaSrcHeader metaSrc = "headers"
)

// Metadata turns request headers and compiled auth into outgoing metadata.
// Auth entries win over same-named headers. API keys configured for the query
// string travel as metadata, since a call has no URL to carry them.
func Metadata(header http.Header, p *auth.Prepared) (metadata.MD, error) {
	md := metadata.MD{}
	if err := appendHeaders(md, header, metaSrcHeader); err != nil {
		return nil, err
	}
	if p == nil {
		return md, nil
	}
	if err := appendHeaders(md, p.Header, metaSrcAuth); err != nil {
		return nil, err
	}
	if p.Basic != nil {
		cred := base64.StdEncoding.EncodeToString([]byte(p.Basic.Username + ":" + p.Basic.Password))
		md.Set("authorization", "Basic "+cred)
	}
	for _, qp := range p.Query {
		key, err := normalizeMetaKey(qp.Key, metaSrcAuth)
		if err != nil {
			return nil, err
		}
		md.Set(key, qp.Value)
	}
	return md, nil
}

// ValidateHeaders reports the first header name that cannot be sent as
// metadata.
func ValidateHeaders(h http.Header) error {
	return appendHeaders(metadata.MD{}, h, metaSrcHeader)
}

func appendHeaders(md metadata.MD, hdr http.Header, src metaSrc) error {
	keys := make([]string, 0, len(hdr))
	for key := range hdr {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		norm, err := normalizeMetaKey(key, src)
		if err != nil {
			return err
		}
		md.Set(norm, hdr[key]...)
	}
	return nil
}

func normalizeMetaKey(key string, src metaSrc) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", metaKeyErr(src, "<empty>", "is empty")
	}
	norm := strings.ToLower(trimmed)
	if !validMetaKey(norm) {
		return "", metaKeyErr(src, trimmed, "has invalid characters; allowed: a-z, 0-9, '-', '_', '.'")
	}
	if isReservedMetaKey(norm) {
		if norm == "grpc-timeout" {
			return "", metaKeyErr(src, norm, "is reserved; use the request timeout setting")
		}
		return "", metaKeyErr(src, norm, "is reserved")
	}
	return norm, nil
}

func metaKeyErr(src metaSrc, key string, msg string) error {
	return errdef.New(errdef.CodeHTTP, "grpc metadata key %q from %s %s", key, src, msg)
}

func validMetaKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			continue
		}
		switch c {
		case '-', '_', '.':
			continue
		default:
			return false
		}
	}
	return true
}

func isReservedMetaKey(key string) bool {
	if strings.HasPrefix(key, "grpc-") || strings.HasPrefix(key, ":") {
		return true
	}
	switch key {
	case "content-type", "user-agent", "te", "authority", "host", "connection",
		"keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
