package dnsserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/core/model"
	"github.com/mprestonsparks/DEAN-sub001/internal/store/memory"
)

// recordingWriter 捕获响应消息的dns.ResponseWriter桩
type recordingWriter struct {
	msg *dns.Msg
}

func (w *recordingWriter) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8053}
}

func (w *recordingWriter) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
}

func (w *recordingWriter) WriteMsg(m *dns.Msg) error { w.msg = m; return nil }
func (w *recordingWriter) Write([]byte) (int, error) { return 0, nil }
func (w *recordingWriter) Close() error              { return nil }
func (w *recordingWriter) TsigStatus() error         { return nil }
func (w *recordingWriter) TsigTimersOnly(bool)       {}
func (w *recordingWriter) Hijack()                   {}

// newTestServer 构建带有一个已注册服务的DNS服务器
func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := memory.NewMemoryStore()
	err := st.Register(context.Background(), &model.Service{
		Name: "agent-manager",
		Host: "10.0.0.5",
		Port: 9001,
	})
	require.NoError(t, err)

	return NewServer(&Config{
		ListenAddr: "127.0.0.1:8053",
		Domain:     "dean.local",
		TTL:        60,
		Timeout:    2 * time.Second,
	}, st, &config.NopLogger{})
}

// query 构造查询并交给处理器，返回捕获的响应
func query(s *Server, name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	w := &recordingWriter{}
	s.handleDNSRequest(w, req)
	return w.msg
}

func TestParseServiceDomain(t *testing.T) {
	s := newTestServer(t)

	name, ok := s.parseServiceDomain("agent-manager.dean.local.")
	assert.True(t, ok)
	assert.Equal(t, "agent-manager", name, "应提取域名后缀之前的服务名")

	// 非本域查询
	_, ok = s.parseServiceDomain("example.com.")
	assert.False(t, ok)

	// 后缀相似但不在标签边界上的域名不属于本域
	_, ok = s.parseServiceDomain("mydean.local.")
	assert.False(t, ok, "mydean.local不应被解析为dean.local内的服务")

	// 仅有域名后缀没有服务名
	_, ok = s.parseServiceDomain("dean.local.")
	assert.False(t, ok)

	// 多级子域不支持
	_, ok = s.parseServiceDomain("a.b.dean.local.")
	assert.False(t, ok)
}

func TestARecordQuery(t *testing.T) {
	s := newTestServer(t)

	resp := query(s, "agent-manager.dean.local", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1, "应返回一条A记录")

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", a.A.String())
	assert.Equal(t, uint32(60), a.Hdr.Ttl)
}

func TestSRVRecordQuery(t *testing.T) {
	s := newTestServer(t)

	resp := query(s, "agent-manager.dean.local", dns.TypeSRV)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1, "应返回一条SRV记录")

	srv, ok := resp.Answer[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(9001), srv.Port)
	assert.Equal(t, "agent-manager.dean.local.", srv.Target)

	// SRV目标的A记录应出现在附加区
	require.Len(t, resp.Extra, 1)
	a, ok := resp.Extra[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", a.A.String())
}

func TestUnknownServiceQuery(t *testing.T) {
	s := newTestServer(t)

	resp := query(s, "ghost.dean.local", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode, "未注册服务应返回NXDOMAIN")
	assert.Empty(t, resp.Answer)
}

func TestOutsideDomainQuery(t *testing.T) {
	s := newTestServer(t)

	resp := query(s, "example.com", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode, "非本域查询应拒绝而不是转发")
	assert.Empty(t, resp.Answer)

	// 标签边界之外的相似域名同样拒绝
	resp = query(s, "mydean.local", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestNonIPHostHasNoARecord(t *testing.T) {
	st := memory.NewMemoryStore()
	err := st.Register(context.Background(), &model.Service{
		Name: "workflow-scheduler",
		Host: "scheduler.internal",
		Port: 9002,
	})
	require.NoError(t, err)

	s := NewServer(&Config{
		ListenAddr: "127.0.0.1:8053",
		Domain:     "dean.local",
		TTL:        60,
	}, st, &config.NopLogger{})

	// 主机为域名时无法给出A记录
	resp := query(s, "workflow-scheduler.dean.local", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)

	// SRV记录不依赖主机是IP，仍应正常返回
	resp = query(s, "workflow-scheduler.dean.local", dns.TypeSRV)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)
	srv := resp.Answer[0].(*dns.SRV)
	assert.Equal(t, uint16(9002), srv.Port)
	assert.Empty(t, resp.Extra, "主机非IP时附加区不应有A记录")
}
