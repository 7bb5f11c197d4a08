package outbound

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// TransferStats contains connection related time metrics of one call.
type TransferStats struct {
	Start                time.Time
	DNSStart             time.Time
	DNSDone              time.Time
	ConnectStart         time.Time
	ConnectDone          time.Time
	TLSHandshakeStart    time.Time
	TLSHandshakeDone     time.Time
	GetConn              time.Time
	GotConn              time.Time
	WroteRequest         time.Time
	GotFirstResponseByte time.Time
	Reused               bool
	RemoteAddr           string
}

// TimeToFirstByte is the time between the start of the call and the first
// response byte, or zero when no byte arrived.
func (s TransferStats) TimeToFirstByte() time.Duration {
	return since(s.Start, s.GotFirstResponseByte)
}

// MarshalLogObject is used for the type safe JSON serialization of the TransferStats struct.
func (s TransferStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("start", s.Start)
	enc.AddDuration("dns_duration", since(s.DNSStart, s.DNSDone))
	enc.AddDuration("connect_duration", since(s.ConnectStart, s.ConnectDone))
	enc.AddDuration("tls_handshake_duration", since(s.TLSHandshakeStart, s.TLSHandshakeDone))
	enc.AddDuration("conn_establish_duration", since(s.GetConn, s.GotConn))
	enc.AddDuration("time_to_first_byte", s.TimeToFirstByte())
	enc.AddBool("reused", s.Reused)
	enc.AddString("remote_addr", s.RemoteAddr)
	return nil
}

func since(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}

	return to.Sub(from)
}

// StatsHandler receives the transfer statistics of a call once it completed.
type StatsHandler func(TransferStats)

type statsContextKey struct{}

// WithStatsHandler requests transfer statistics for calls made with ctx.
func WithStatsHandler(ctx context.Context, h StatsHandler) context.Context {
	return context.WithValue(ctx, statsContextKey{}, h)
}

func statsHandlerFrom(ctx context.Context) StatsHandler {
	h, _ := ctx.Value(statsContextKey{}).(StatsHandler)
	return h
}

// statsRecorder keeps the latest statistics of a single call. Trace hooks may
// fire on transport goroutines.
type statsRecorder struct {
	mu    sync.Mutex
	stats TransferStats
	now   func() time.Time
}

func newStatsRecorder(now func() time.Time) *statsRecorder {
	return &statsRecorder{
		stats: TransferStats{Start: now()},
		now:   now,
	}
}

func (s *statsRecorder) update(f func(*TransferStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.stats)
}

func (s *statsRecorder) snapshot() TransferStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *statsRecorder) stamp(field func(*TransferStats) *time.Time) {
	t := s.now()
	s.update(func(st *TransferStats) { *field(st) = t })
}

func (s *statsRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.GetConn })
		},
		GotConn: func(info httptrace.GotConnInfo) {
			t := s.now()
			s.update(func(st *TransferStats) {
				st.GotConn = t
				st.Reused = info.Reused
				if info.Conn != nil {
					st.RemoteAddr = info.Conn.RemoteAddr().String()
				}
			})
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.DNSStart })
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.DNSDone })
		},
		ConnectStart: func(string, string) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.ConnectStart })
		},
		ConnectDone: func(string, string, error) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.ConnectDone })
		},
		TLSHandshakeStart: func() {
			s.stamp(func(st *TransferStats) *time.Time { return &st.TLSHandshakeStart })
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.TLSHandshakeDone })
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			s.stamp(func(st *TransferStats) *time.Time { return &st.WroteRequest })
		},
		GotFirstResponseByte: func() {
			s.stamp(func(st *TransferStats) *time.Time { return &st.GotFirstResponseByte })
		},
	}
}
