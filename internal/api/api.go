// Package api provides HTTP handlers and the main API server logic for secondself.
//
// It exposes endpoints for starting and inspecting outreach flows, the
// Messenger webhook, style profile management, bot controls, and test
// utilities. The API integrates with the funnel, messaging, bot and
// scheduler modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Macxim/secondself/internal/bot"
	"github.com/Macxim/secondself/internal/funnel"
	"github.com/Macxim/secondself/internal/genai"
	"github.com/Macxim/secondself/internal/messaging"
	"github.com/Macxim/secondself/internal/scheduler"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	FollowUpSchedule string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFollowUpSchedule overrides the cron expression driving the follow-up sweep.
func WithFollowUpSchedule(expr string) Option {
	return func(o *Opts) { o.FollowUpSchedule = expr }
}

// Server wires the HTTP surface to the funnel and bot modules.
type Server struct {
	addr             string
	followUpSchedule string

	manager    *funnel.Manager
	sweeper    *funnel.Sweeper
	msgService messaging.Service
	processor  *bot.Processor
	controller *bot.Controller
	styles     *bot.StyleManager
	ai         genai.ClientInterface
	sched      *scheduler.Scheduler
	webhook    http.HandlerFunc

	httpServer *http.Server
}

// NewServer creates an API server, applying any provided options.
func NewServer(manager *funnel.Manager, sweeper *funnel.Sweeper, msgService messaging.Service, processor *bot.Processor, controller *bot.Controller, styles *bot.StyleManager, ai genai.ClientInterface, sched *scheduler.Scheduler, webhook http.HandlerFunc, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.FollowUpSchedule == "" {
		cfg.FollowUpSchedule = scheduler.DefaultFollowUpSchedule
	}
	return &Server{
		addr:             cfg.Addr,
		followUpSchedule: cfg.FollowUpSchedule,
		manager:          manager,
		sweeper:          sweeper,
		msgService:       msgService,
		processor:        processor,
		controller:       controller,
		styles:           styles,
		ai:               ai,
		sched:            sched,
		webhook:          webhook,
	}
}

// routes builds the HTTP mux for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/flow/start", s.startFlowHandler)
	mux.HandleFunc("/flow/config", s.flowConfigHandler)
	mux.HandleFunc("/flow/process-followups", s.processFollowUpsHandler)
	mux.HandleFunc("/flow/", s.flowHandler)
	mux.HandleFunc("/flows", s.listFlowsHandler)
	if s.webhook != nil {
		mux.HandleFunc("/webhook", s.webhook)
	}
	mux.HandleFunc("/test/message", s.testMessageHandler)
	mux.HandleFunc("/test/conversation/", s.conversationHandler)
	mux.HandleFunc("/style", s.styleHandler)
	mux.HandleFunc("/style/train", s.styleTrainHandler)
	mux.HandleFunc("/style/test", s.styleTestHandler)
	mux.HandleFunc("/style/reload", s.styleReloadHandler)
	mux.HandleFunc("/bot/toggle", s.botToggleHandler)
	mux.HandleFunc("/bot/status", s.botStatusHandler)
	mux.HandleFunc("/bot/conversation/", s.botConversationHandler)
	return mux
}

// Handler returns the server's HTTP handler, used by tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Run starts the follow-up schedule and serves HTTP until the context is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.sched != nil && s.sweeper != nil {
		if err := s.sched.AddJob(s.followUpSchedule, func() {
			n := s.sweeper.Sweep(context.Background())
			if n > 0 {
				slog.Info("Server follow-up sweep completed", "attempted", n)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule follow-up sweep: %w", err)
		}
		slog.Info("Server follow-up sweep scheduled", "schedule", s.followUpSchedule)
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
