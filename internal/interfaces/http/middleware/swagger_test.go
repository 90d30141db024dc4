package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveSwagger(cfg SwaggerConfig, remoteAddr string) *httptest.ResponseRecorder {
	engine := gin.New()
	engine.GET("/swagger/*any", SwaggerProtection(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, "docs")
	})
	req := httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSwaggerProtection(t *testing.T) {
	t.Run("disabled answers 404", func(t *testing.T) {
		w := serveSwagger(SwaggerConfig{}, "10.0.0.5:4000")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_NOT_FOUND")
	})

	t.Run("enabled without allow list is open", func(t *testing.T) {
		w := serveSwagger(SwaggerConfig{Enabled: true}, "203.0.113.9:4000")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "docs", w.Body.String())
	})

	t.Run("allow list admits single IPs and networks", func(t *testing.T) {
		cfg := SwaggerConfig{Enabled: true, AllowedIPs: []string{"127.0.0.1", "10.0.0.0/8"}}
		assert.Equal(t, http.StatusOK, serveSwagger(cfg, "127.0.0.1:4000").Code)
		assert.Equal(t, http.StatusOK, serveSwagger(cfg, "10.1.2.3:4000").Code)

		w := serveSwagger(cfg, "203.0.113.9:4000")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_FORBIDDEN")
	})
}

func TestParseAllowList(t *testing.T) {
	ips, nets := parseAllowList([]string{" 192.168.1.10 ", "172.16.0.0/12", "not-an-ip", "10.0.0.0/99"})
	assert.Len(t, ips, 1)
	assert.Len(t, nets, 1)

	assert.True(t, isIPAllowed(net.ParseIP("192.168.1.10"), ips, nets))
	assert.True(t, isIPAllowed(net.ParseIP("172.20.0.1"), ips, nets))
	assert.False(t, isIPAllowed(net.ParseIP("192.168.1.11"), ips, nets))
	assert.False(t, isIPAllowed(nil, ips, nets))
}
