package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

type ServiceHandler func(ctx context.Context, call ServiceCall) error

type registeredService struct {
	handler   ServiceHandler
	validator *Validator
}

// Services is the registry of services this process exposes to the host.
type Services struct {
	mu       sync.RWMutex
	services map[string]registeredService
	logger   *slog.Logger
}

func NewServices(logger *slog.Logger) *Services {
	return &Services{
		services: make(map[string]registeredService),
		logger:   logger,
	}
}

func serviceKey(domain, service string) string {
	return domain + "." + service
}

func (s *Services) Register(domain, service string, handler ServiceHandler, schema Schema) error {
	key := serviceKey(domain, service)

	validator, err := schema.Compile()
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[key]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, key)
	}
	s.services[key] = registeredService{handler: handler, validator: validator}
	s.logger.Debug("Registered service", "service", key)
	return nil
}

func (s *Services) Remove(domain, service string) {
	s.mu.Lock()
	delete(s.services, serviceKey(domain, service))
	s.mu.Unlock()
}

func (s *Services) Has(domain, service string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.services[serviceKey(domain, service)]
	return ok
}

// List returns registered services as domain.service, sorted.
func (s *Services) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.services))
	for key := range s.services {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Call validates data against the service schema and runs its handler with
// the converted data.
func (s *Services) Call(ctx context.Context, domain, service string, data map[string]any) error {
	s.mu.RLock()
	svc, ok := s.services[serviceKey(domain, service)]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, serviceKey(domain, service))
	}

	data, err := svc.validator.Validate(data)
	if err != nil {
		return err
	}

	return svc.handler(ctx, ServiceCall{Domain: domain, Service: service, Data: data})
}
