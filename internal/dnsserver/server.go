package dnsserver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/mprestonsparks/DEAN-sub001/internal/config"
	"github.com/mprestonsparks/DEAN-sub001/internal/store"
)

// Config 定义DNS发现服务的配置项
type Config struct {
	// ListenAddr 是DNS服务的监听地址，格式为 "ip:port"
	ListenAddr string

	// Domain 是服务域名后缀，如 "dean.local"
	Domain string

	// TTL 是DNS响应的存活时间（秒）
	TTL uint32

	// Timeout 是DNS读写的超时时间
	Timeout time.Duration

	// EnableUDP 是否启用UDP监听
	EnableUDP bool

	// EnableTCP 是否启用TCP监听
	EnableTCP bool
}

// Server 基于注册表回答服务发现查询的DNS服务器
// 查询格式: <服务名>.<domain>，支持A和SRV记录
type Server struct {
	config     *Config
	store      store.ServiceStore
	logger     config.Logger
	udpServer  *dns.Server
	tcpServer  *dns.Server
	shutdownWg sync.WaitGroup
}

// NewServer 创建一个新的DNS发现服务
func NewServer(cfg *Config, st store.ServiceStore, logger config.Logger) *Server {
	if logger == nil {
		logger = &config.NopLogger{}
	}
	return &Server{
		config: cfg,
		store:  st,
		logger: logger,
	}
}

// Start 启动DNS服务器
func (s *Server) Start(ctx context.Context) error {
	dnsHandler := dns.NewServeMux()
	dnsHandler.HandleFunc(".", s.handleDNSRequest)

	// 如果启用UDP，启动UDP服务器
	if s.config.EnableUDP {
		s.udpServer = &dns.Server{
			Addr:         s.config.ListenAddr,
			Net:          "udp",
			Handler:      dnsHandler,
			UDPSize:      65535,
			ReadTimeout:  s.config.Timeout,
			WriteTimeout: s.config.Timeout,
		}

		s.shutdownWg.Add(1)
		go func() {
			defer s.shutdownWg.Done()
			s.logger.Info("启动UDP DNS服务器", zap.String("addr", s.config.ListenAddr))
			if err := s.udpServer.ListenAndServe(); err != nil {
				s.logger.Error("UDP DNS服务器异常退出", zap.Error(err))
			}
		}()
	}

	// 如果启用TCP，启动TCP服务器
	if s.config.EnableTCP {
		s.tcpServer = &dns.Server{
			Addr:         s.config.ListenAddr,
			Net:          "tcp",
			Handler:      dnsHandler,
			ReadTimeout:  s.config.Timeout,
			WriteTimeout: s.config.Timeout,
		}

		s.shutdownWg.Add(1)
		go func() {
			defer s.shutdownWg.Done()
			s.logger.Info("启动TCP DNS服务器", zap.String("addr", s.config.ListenAddr))
			if err := s.tcpServer.ListenAndServe(); err != nil {
				s.logger.Error("TCP DNS服务器异常退出", zap.Error(err))
			}
		}()
	}

	return nil
}

// Stop 停止DNS服务器并等待监听协程退出
func (s *Server) Stop() error {
	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭UDP服务器失败: %w", err))
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭TCP服务器失败: %w", err))
		}
	}

	s.shutdownWg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("停止DNS服务器时发生错误: %v", errs)
	}
	return nil
}

// handleDNSRequest 处理DNS请求
func (s *Server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		serviceName, ok := s.parseServiceDomain(q.Name)
		if !ok {
			// 非本域查询，拒绝而不是转发
			m.Rcode = dns.RcodeRefused
			continue
		}

		switch q.Qtype {
		case dns.TypeA:
			s.appendARecord(m, q, serviceName)
		case dns.TypeSRV:
			s.appendSRVRecord(m, q, serviceName)
		default:
			// 本域内不支持的记录类型，返回空答案
		}
	}

	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}

// parseServiceDomain 解析服务域名
// 格式: <服务名>.<domain>，返回服务名
func (s *Server) parseServiceDomain(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".")

	// 后缀必须落在标签边界上，否则mydean.local会被误判为dean.local内的查询
	if !strings.HasSuffix(name, "."+s.config.Domain) {
		return "", false
	}

	// 移除域名后缀和分隔点
	name = strings.TrimSuffix(name, "."+s.config.Domain)
	if name == "" || strings.Contains(name, ".") {
		return "", false
	}

	return name, true
}

// appendARecord 为服务追加A记录答案
func (s *Server) appendARecord(m *dns.Msg, q dns.Question, serviceName string) {
	service, err := s.store.GetService(context.Background(), serviceName)
	if err != nil {
		if store.IsNotFound(err) {
			m.Rcode = dns.RcodeNameError
		} else {
			s.logger.Error("查询服务失败", zap.String("service", serviceName), zap.Error(err))
			m.Rcode = dns.RcodeServerFailure
		}
		return
	}

	ip := net.ParseIP(service.Host)
	if ip == nil || ip.To4() == nil {
		// 主机不是IPv4地址时无法给出A记录
		m.Rcode = dns.RcodeNameError
		return
	}

	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   q.Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    s.config.TTL,
		},
		A: ip,
	})
}

// appendSRVRecord 为服务追加SRV记录及配套的A记录
func (s *Server) appendSRVRecord(m *dns.Msg, q dns.Question, serviceName string) {
	service, err := s.store.GetService(context.Background(), serviceName)
	if err != nil {
		if store.IsNotFound(err) {
			m.Rcode = dns.RcodeNameError
		} else {
			s.logger.Error("查询服务失败", zap.String("service", serviceName), zap.Error(err))
			m.Rcode = dns.RcodeServerFailure
		}
		return
	}

	target := fmt.Sprintf("%s.%s.", serviceName, s.config.Domain)

	m.Answer = append(m.Answer, &dns.SRV{
		Hdr: dns.RR_Header{
			Name:   q.Name,
			Rrtype: dns.TypeSRV,
			Class:  dns.ClassINET,
			Ttl:    s.config.TTL,
		},
		Priority: 0,
		Weight:   0,
		Port:     uint16(service.Port),
		Target:   target,
	})

	// SRV目标域名的A记录放在附加区
	if ip := net.ParseIP(service.Host); ip != nil && ip.To4() != nil {
		m.Extra = append(m.Extra, &dns.A{
			Hdr: dns.RR_Header{
				Name:   target,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    s.config.TTL,
			},
			A: ip,
		})
	}
}
