package server

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const proxyTimeout = 5 * time.Minute

// Proxy forwards /api/tts/* requests to the synthesis backend unchanged.
type Proxy struct {
	baseURL string
	client  *http.Client
}

// NewProxy creates a proxy for baseURL. A nil client gets a long timeout
// suited to synchronous synthesis.
func NewProxy(baseURL string, client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: proxyTimeout}
	}
	return &Proxy{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Models handles GET /api/tts/models
func (p *Proxy) Models(c *gin.Context) {
	p.forward(c, http.MethodGet, "/tts/models", nil)
}

// Synthesize handles POST /api/tts/synthesize
func (p *Proxy) Synthesize(c *gin.Context) {
	p.forward(c, http.MethodPost, "/tts/synthesize", c.Request.Body)
}

// Status handles GET /api/tts/status/:id
func (p *Proxy) Status(c *gin.Context) {
	p.forward(c, http.MethodGet, "/tts/status/"+url.PathEscape(c.Param("id")), nil)
}

// forward relays one request and streams the backend answer back with its
// status code and content type.
func (p *Proxy) forward(c *gin.Context, method string, path string, body io.Reader) {
	target := p.baseURL + path
	req, err := http.NewRequestWithContext(c.Request.Context(), method, target, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if body != nil {
		contentType := c.GetHeader("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("[SERVER] proxy %s %s failed: %v", method, path, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "error forwarding request to backend: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, nil)
}
