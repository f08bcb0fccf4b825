// Package tunnel optionally exposes the server beyond the local network
// through an ngrok endpoint. Disabled by default; playback works entirely
// without it.
package tunnel

import (
	"context"
	"fmt"
	"os"

	"andante/internal/config"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// Service owns the ngrok agent and forwarder lifecycle.
type Service struct {
	config *config.NgrokConfig
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
	logger *logrus.Logger
}

// NewService creates the tunnel service. Returns (nil, nil) when the tunnel
// is disabled in configuration.
func NewService(cfg *config.NgrokConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// The auth token usually lives in .env rather than the config file.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			logger.WithError(err).Warn("Could not load .env file")
		}
	}

	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	if authToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found; set NGROK_AUTHTOKEN in .env or config")
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(authToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		agent:  agent,
		logger: logger,
	}, nil
}

// Start forwards a public endpoint to the local address.
func (s *Service) Start(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil
	}

	var opts []ngrok.EndpointOption
	if s.config.Domain != "" {
		opts = append(opts, ngrok.WithURL(s.config.Domain))
	}

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), opts...)
	if err != nil {
		return fmt.Errorf("failed to start tunnel: %w", err)
	}
	s.tunnel = tunnel

	s.logger.WithField("url", tunnel.URL().String()).Info("Remote access tunnel started")
	return nil
}

// Stop tears the tunnel down.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.tunnel != nil {
		s.tunnel.Close()
		s.logger.Info("Remote access tunnel stopped")
	}
}
