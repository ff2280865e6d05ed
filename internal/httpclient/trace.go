package httpclient

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/nettrace"
)

// traceSession records connection phases for one hop.
type traceSession struct {
	collector *nettrace.Collector
	trace     *httptrace.ClientTrace
}

func newTraceSession() *traceSession {
	s := &traceSession{collector: nettrace.NewCollector()}
	s.trace = &httptrace.ClientTrace{
		DNSStart:             s.onDNSStart,
		DNSDone:              s.onDNSDone,
		ConnectStart:         s.onConnectStart,
		ConnectDone:          s.onConnectDone,
		GotConn:              s.onGotConn,
		TLSHandshakeStart:    s.onTLSHandshakeStart,
		TLSHandshakeDone:     s.onTLSHandshakeDone,
		WroteHeaders:         s.onWroteHeaders,
		WroteRequest:         s.onWroteRequest,
		GotFirstResponseByte: s.onGotFirstResponseByte,
	}
	return s
}

func (s *traceSession) bind(req *http.Request) *http.Request {
	return req.WithContext(httptrace.WithClientTrace(req.Context(), s.trace))
}

func (s *traceSession) onDNSStart(info httptrace.DNSStartInfo) {
	s.collector.Begin(nettrace.PhaseDNS, time.Now())
	s.collector.UpdateMeta(nettrace.PhaseDNS, func(m *nettrace.PhaseMeta) { m.Addr = info.Host })
}

func (s *traceSession) onDNSDone(info httptrace.DNSDoneInfo) {
	s.collector.End(nettrace.PhaseDNS, time.Now(), info.Err)
}

func (s *traceSession) onConnectStart(network, addr string) {
	s.collector.Begin(nettrace.PhaseConnect, time.Now())
	s.collector.UpdateMeta(nettrace.PhaseConnect, func(m *nettrace.PhaseMeta) { m.Addr = addr })
}

func (s *traceSession) onConnectDone(network, addr string, err error) {
	s.collector.End(nettrace.PhaseConnect, time.Now(), err)
}

func (s *traceSession) onGotConn(info httptrace.GotConnInfo) {
	if !info.Reused {
		return
	}
	now := time.Now()
	s.collector.Begin(nettrace.PhaseConnect, now)
	s.collector.UpdateMeta(nettrace.PhaseConnect, func(m *nettrace.PhaseMeta) {
		m.Reused = true
		if info.Conn != nil {
			m.Addr = info.Conn.RemoteAddr().String()
		}
	})
	s.collector.End(nettrace.PhaseConnect, now, nil)
}

func (s *traceSession) onTLSHandshakeStart() {
	s.collector.Begin(nettrace.PhaseTLS, time.Now())
}

func (s *traceSession) onTLSHandshakeDone(_ tls.ConnectionState, err error) {
	s.collector.End(nettrace.PhaseTLS, time.Now(), err)
	s.collector.Fail(err)
}

func (s *traceSession) onWroteHeaders() {
	s.collector.Begin(nettrace.PhaseReqBody, time.Now())
}

func (s *traceSession) onWroteRequest(info httptrace.WroteRequestInfo) {
	now := time.Now()
	s.collector.End(nettrace.PhaseReqBody, now, info.Err)
	if info.Err != nil {
		s.collector.Fail(info.Err)
		return
	}
	s.collector.Begin(nettrace.PhaseTTFB, now)
}

func (s *traceSession) onGotFirstResponseByte() {
	now := time.Now()
	if s.collector.Active(nettrace.PhaseTTFB) {
		s.collector.End(nettrace.PhaseTTFB, now, nil)
	}
	s.collector.Begin(nettrace.PhaseTransfer, now)
}

// finish closes the transfer phase once the body has been read.
func (s *traceSession) finish(err error) *nettrace.Timeline {
	now := time.Now()
	if s.collector.Active(nettrace.PhaseTransfer) {
		s.collector.End(nettrace.PhaseTransfer, now, err)
	}
	s.collector.Fail(err)
	s.collector.Complete(now)
	return s.collector.Timeline()
}
