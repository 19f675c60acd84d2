package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/common"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

// WebhookStore is the intake side of the webhook manager.
type WebhookStore interface {
	Store(ctx context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error)
}

var knownEvents = map[string]types.WebhookEvent{
	string(types.WebhookEventPayment):      types.WebhookEventPayment,
	string(types.WebhookEventKYC):          types.WebhookEventKYC,
	string(types.WebhookEventNotification): types.WebhookEventNotification,
	string(types.WebhookEventSecurity):     types.WebhookEventSecurity,
}

// Server is the webhook intake surface. It persists and enqueues raw payloads
// and returns immediately; all processing happens on the workers.
type Server struct {
	cfg    common.ServerConfig
	store  WebhookStore
	sd     statsd.ClientInterface
	logger logrus.FieldLogger
}

func NewServer(cfg common.ServerConfig, store WebhookStore, sd statsd.ClientInterface, logger logrus.FieldLogger) *Server {
	if sd == nil {
		sd = &statsd.NoOpClient{}
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		sd:     sd,
		logger: logger.WithField("component", "api"),
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealth)
	router.POST("/hooks/:event", s.handleHook)
	return router
}

func (s *Server) StartServer() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.logger.WithField("addr", addr).Info("starting webhook intake server")
	return s.Router().Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleHook(c *gin.Context) {
	event, ok := knownEvents[c.Param("event")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown event"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}
	rec, err := s.store.Store(c.Request.Context(), event, body)
	if err != nil {
		_ = s.sd.Incr("api.hook.store_error", []string{"event:" + string(event)}, 1)
		s.logger.WithError(err).WithField("event", event).Error("failed to store webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store webhook"})
		return
	}
	_ = s.sd.Incr("api.hook.accepted", []string{"event:" + string(event)}, 1)
	c.JSON(http.StatusAccepted, gin.H{"id": rec.ID})
}
