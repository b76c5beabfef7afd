package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif/v2"
	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

// server exposes one connected camera over HTTP
type server struct {
	client *onvif.Client
	trace  *traceHub
	router *gin.Engine
	log    zerolog.Logger
}

// stateResponse is the JSON view of the connection state
type stateResponse struct {
	Bootstrap      string               `json:"bootstrap"`
	ClockSkew      string               `json:"clockSkew"`
	ClockSkewMs    int64                `json:"clockSkewMs"`
	ClockSkewKnown bool                 `json:"clockSkewKnown"`
	Services       map[string]string    `json:"services"`
	ActiveSources  []onvif.ActiveSource `json:"activeSources"`
	DefaultProfile string               `json:"defaultProfile,omitempty"`
}

func newServer(client *onvif.Client, trace *traceHub, gatherer prometheus.Gatherer, log zerolog.Logger) *server {
	s := &server{
		client: client,
		trace:  trace,
		log:    log,
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *server) setupRoutes(gatherer prometheus.Gatherer) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)

	api := router.Group("/api/v1")
	{
		api.GET("/state", s.handleState)
		api.GET("/services", s.handleServices)
		api.POST("/refresh", s.handleRefresh)
		api.GET("/device", s.handleDevice)
		api.GET("/trace", s.handleTrace)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.router = router
}

func (s *server) logRequests(c *gin.Context) {
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Msg("http request")
}

func (s *server) handleState(c *gin.Context) {
	state := s.client.State()

	resp := stateResponse{
		Bootstrap:      state.Bootstrap.String(),
		ClockSkew:      state.ClockSkew.String(),
		ClockSkewMs:    state.ClockSkew.Milliseconds(),
		ClockSkewKnown: state.ClockSkewKnown,
		Services:       state.ServiceURIs,
		ActiveSources:  state.ActiveSources,
	}
	if state.DefaultProfile != nil {
		resp.DefaultProfile = state.DefaultProfile.Token
	}

	c.JSON(http.StatusOK, resp)
}

func (s *server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, s.client.State().ServiceURIs)
}

// upstreamFailure reports a failed device request as 504 on timeout and
// 502 otherwise
func (s *server) upstreamFailure(c *gin.Context, err error, msg string) {
	status := http.StatusBadGateway
	if onvif.IsTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	s.log.Warn().Err(err).Msg(msg)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *server) handleRefresh(c *gin.Context) {
	caps, err := s.client.GetCapabilities(c.Request.Context())
	if err != nil {
		s.upstreamFailure(c, err, "capability refresh failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"services":     s.client.State().ServiceURIs,
		"capabilities": caps,
	})
}

// handleDevice dumps GetDeviceInformation as loosely typed JSON, so vendor
// fields the typed model does not know about still show up
func (s *server) handleDevice(c *gin.Context) {
	body, _, err := s.client.Request(c.Request.Context(), "device", `<tds:GetDeviceInformation/>`)
	if err != nil {
		s.upstreamFailure(c, err, "device information request failed")
		return
	}

	c.JSON(http.StatusOK, xmltree.Flatten(body.Find("GetDeviceInformationResponse")))
}
