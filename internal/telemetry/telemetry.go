// Package telemetry counts anonymous tool usage. Disabled by default;
// when enabled, only tool and action names and outcome flags are
// transmitted, never other arguments, VM names, or paths.
package telemetry

import (
	"log/slog"

	"github.com/posthog/posthog-go"
)

// Service records usage events.
type Service interface {
	Track(event string, properties map[string]any)
	Close()
}

// noopService discards all events.
type noopService struct{}

// NewNoopService returns a telemetry service that records nothing.
func NewNoopService() Service { return noopService{} }

func (noopService) Track(string, map[string]any) {}
func (noopService) Close()                       {}

// posthogService ships events to PostHog.
type posthogService struct {
	client     posthog.Client
	distinctID string
	logger     *slog.Logger
}

// NewPostHogService builds the PostHog-backed service. distinctID is a
// random per-installation identifier, never derived from host data.
func NewPostHogService(apiKey, endpoint, distinctID string, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &posthogService{client: client, distinctID: distinctID, logger: logger}, nil
}

func (s *posthogService) Track(event string, properties map[string]any) {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		s.logger.Debug("telemetry enqueue failed", "error", err)
	}
}

func (s *posthogService) Close() {
	_ = s.client.Close()
}
