// Command chatws is a small broadcast chat server built on the wsbridge
// adapter: every text message received from any client is fanned out to all
// connected clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	conc "github.com/panyam/gocurrent"
	"github.com/spf13/viper"

	"github.com/panyam/wsbridge/server"
	"github.com/panyam/wsbridge/ws"
)

// AppConfig is the chatws configuration, loaded from config.yaml with env
// overrides.
type AppConfig struct {
	Port                int   `mapstructure:"port"`
	PingIntervalSec     int   `mapstructure:"pingIntervalSec"`
	PongWaitSec         int   `mapstructure:"pongWaitSec"`
	MaxMessageSize      int64 `mapstructure:"maxMessageSize"`
	PerMessageDeflate   bool  `mapstructure:"perMessageDeflate"`
	IncludeServerHeader bool  `mapstructure:"includeServerHeader"`
	IncludeDateHeader   bool  `mapstructure:"includeDateHeader"`
}

func loadConfig(configPath string) (*AppConfig, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("pingIntervalSec", 30)
	v.SetDefault("pongWaitSec", 300)
	v.SetDefault("maxMessageSize", 16<<20)
	v.SetDefault("perMessageDeflate", true)
	v.SetDefault("includeServerHeader", true)
	v.SetDefault("includeDateHeader", true)

	if err := v.ReadInConfig(); err != nil {
		// Run on defaults when no config file is present.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &config, nil
}

func (a *AppConfig) wsConfig() *ws.Config {
	cfg := ws.DefaultConfig()
	cfg.PingInterval = time.Duration(a.PingIntervalSec) * time.Second
	cfg.PongWait = time.Duration(a.PongWaitSec) * time.Second
	cfg.MaxMessageSize = a.MaxMessageSize
	cfg.PerMessageDeflate = a.PerMessageDeflate
	cfg.IncludeServerHeader = a.IncludeServerHeader
	cfg.IncludeDateHeader = a.IncludeDateHeader
	return cfg
}

// ChatRoom fans every received message out to all connected clients.
type ChatRoom struct {
	Fanout *conc.FanOut[string]
	logger *slog.Logger
}

func NewChatRoom(logger *slog.Logger) *ChatRoom {
	return &ChatRoom{Fanout: conc.NewFanOut[string](nil), logger: logger}
}

// Serve is the application callback for one connection.
func (room *ChatRoom) Serve(ctx context.Context, conn *ws.Conn) error {
	if _, err := conn.Receive(ctx); err != nil {
		return err
	}
	if err := conn.Accept(nil); err != nil {
		return err
	}

	out := make(chan string, 16)
	room.Fanout.Add(out, nil, false)
	defer func() { <-room.Fanout.Remove(out, true) }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-out:
				if err := conn.SendText(ctx, msg); err != nil {
					return
				}
			}
		}
	}()

	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		switch {
		case ev.Disconnect != nil:
			room.logger.Info("client left", "connId", conn.ConnId(), "code", ev.Disconnect.Code)
			return nil
		case ev.Receive != nil && ev.Receive.Text != nil:
			room.Fanout.Send(fmt.Sprintf("%s: %s", conn.ConnId(), *ev.Receive.Text))
		}
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	appCfg, err := loadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(appCfg.wsConfig(), logger)
	srv.State()["started_at"] = time.Now()

	room := NewChatRoom(logger)
	router := mux.NewRouter()
	router.HandleFunc("/chat", srv.Handle(room.Serve))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", appCfg.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("signal received, draining connections")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn("drain incomplete", "error", err)
	}
	httpServer.Shutdown(drainCtx)
}
