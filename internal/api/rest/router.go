// Package rest 提供 HTTP/JSON 接口。
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/auth"
	"github.com/lvdashuaibi/roundvote/internal/service"
)

type Handler struct {
	svc *service.VoteService
	log logrus.FieldLogger
}

// NewRouter 注册全部路由；graphql 为 nil 时不挂载 GraphQL 端点
func NewRouter(svc *service.VoteService, gate *auth.Gate, graphql http.Handler, graphqlPath string, log logrus.FieldLogger) *gin.Engine {
	h := &Handler{svc: svc, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)

	api := r.Group("/api", gate.Middleware())
	api.POST("/vote", h.vote)
	api.GET("/results", h.results)
	api.GET("/votings", h.listVotings)
	api.POST("/votings", h.createVoting)
	api.POST("/votings/:id/close", h.closeVoting)
	api.GET("/participants", h.listParticipants)
	api.POST("/participants", h.createParticipant)

	if graphql != nil {
		r.POST(graphqlPath, gate.Middleware(), gin.WrapH(graphql))
	}
	return r
}

// requestLogger 每个请求一条访问日志
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("请求处理失败")
			return
		}
		entry.Debug("请求完成")
	}
}

// Server HTTP 服务
type Server struct {
	srv *http.Server
	log logrus.FieldLogger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, log logrus.FieldLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: log,
	}
}

// Start 阻塞直到服务关闭
func (s *Server) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("HTTP服务已启动")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
