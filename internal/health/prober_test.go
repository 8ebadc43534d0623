package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProberHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)
	err := prober.Probe(context.Background(), server.URL+"/health")
	assert.NoError(t, err, "200响应应视为健康")
}

func TestHTTPProberNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)
	err := prober.Probe(context.Background(), server.URL+"/health")
	assert.Error(t, err, "非2xx响应应视为不健康")
}

func TestHTTPProberConnectionRefused(t *testing.T) {
	// 先拿到一个地址再关闭，保证探测必然连接失败
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	prober := NewHTTPProber(2 * time.Second)
	err := prober.Probe(context.Background(), url+"/health")
	assert.Error(t, err, "连接失败应视为不健康")
}

func TestHTTPProberTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	prober := NewHTTPProber(50 * time.Millisecond)
	err := prober.Probe(context.Background(), server.URL+"/health")
	assert.Error(t, err, "超时应视为不健康")
}
