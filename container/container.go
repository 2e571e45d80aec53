/*
Package container provides dependency injection for the mark status service.

It wires the API client, status cache, check limiter, jitter, reconciler
manager and feed host together so the HTTP layer and main only ever ask for
finished services.
*/
package container

import (
	"fmt"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/markstatus/api"
	"github.com/Nexora-Open-Source/markstatus/cache"
	"github.com/Nexora-Open-Source/markstatus/feed"
	"github.com/Nexora-Open-Source/markstatus/limiter"
	"github.com/Nexora-Open-Source/markstatus/reconciler"
	"github.com/Nexora-Open-Source/markstatus/scheduler"
	"github.com/sirupsen/logrus"
)

// Service names
const (
	ServiceLogger   = "logger"
	ServiceAPI      = "api"
	ServiceCache    = "cache"
	ServiceLimiter  = "limiter"
	ServiceJitter   = "jitter"
	ServiceManager  = "manager"
	ServiceHost     = "host"
	ServiceLoader   = "loader"
	ServiceReloader = "reloader"
)

// Settings are the values InitializeServices needs
type Settings struct {
	APIBaseURL          string
	APIToken            string
	APITimeout          time.Duration
	TimelineLoadTimeout time.Duration
	ReloadQueueSize     int
	ReloadWait          time.Duration
	CacheDuration       time.Duration
	MaxConcurrent       int
	MaxRateLimitRetries int
	CheckTimeout        time.Duration
	MutationTimeout     time.Duration
	Delays              scheduler.Delays
}

// Container holds all service dependencies
type Container struct {
	mu         sync.RWMutex
	services   map[string]interface{}
	factories  map[string]func() (interface{}, error)
	singletons map[string]interface{}
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		services:   make(map[string]interface{}),
		factories:  make(map[string]func() (interface{}, error)),
		singletons: make(map[string]interface{}),
	}
}

// Register registers a service instance
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterFactory registers a factory for lazy creation. The first
// successful result is kept as a singleton.
func (c *Container) RegisterFactory(name string, factory func() (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// RegisterSingleton registers a singleton service
func (c *Container) RegisterSingleton(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singletons[name] = service
}

// Get retrieves a service by name
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	if service, exists := c.services[name]; exists {
		c.mu.RUnlock()
		return service, nil
	}
	if singleton, exists := c.singletons[name]; exists {
		c.mu.RUnlock()
		return singleton, nil
	}
	factory, exists := c.factories[name]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("service %s not found", name)
	}

	// factories may resolve their own dependencies, so run them unlocked
	service, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.singletons[name]; ok {
		return existing, nil
	}
	c.singletons[name] = service
	return service, nil
}

func get[T any](c *Container, name string) (T, error) {
	var zero T
	service, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("%s service is not of expected type", name)
	}
	return typed, nil
}

// GetLogger retrieves the logger service
func (c *Container) GetLogger() (*logrus.Logger, error) {
	return get[*logrus.Logger](c, ServiceLogger)
}

// GetAPIClient retrieves the remote mark API client
func (c *Container) GetAPIClient() (*api.Client, error) {
	return get[*api.Client](c, ServiceAPI)
}

// GetStatusCache retrieves the status cache
func (c *Container) GetStatusCache() (*cache.StatusCache, error) {
	return get[*cache.StatusCache](c, ServiceCache)
}

// GetLimiter retrieves the status check limiter
func (c *Container) GetLimiter() (*limiter.RequestLimiter, error) {
	return get[*limiter.RequestLimiter](c, ServiceLimiter)
}

// GetJitter retrieves the delay generator
func (c *Container) GetJitter() (*scheduler.Jitter, error) {
	return get[*scheduler.Jitter](c, ServiceJitter)
}

// GetManager retrieves the reconciler manager
func (c *Container) GetManager() (*reconciler.Manager, error) {
	return get[*reconciler.Manager](c, ServiceManager)
}

// GetHost retrieves the feed host
func (c *Container) GetHost() (*feed.Host, error) {
	return get[*feed.Host](c, ServiceHost)
}

// GetLoader retrieves the timeline loader
func (c *Container) GetLoader() (*feed.Loader, error) {
	return get[*feed.Loader](c, ServiceLoader)
}

// GetReloader retrieves the timeline reloader
func (c *Container) GetReloader() (*feed.Reloader, error) {
	return get[*feed.Reloader](c, ServiceReloader)
}

// InitializeServices registers the core services and the factories that
// depend on them
func (c *Container) InitializeServices(settings Settings, logger *logrus.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger is required")
	}

	client, err := api.NewClient(api.ClientConfig{
		BaseURL: settings.APIBaseURL,
		Token:   settings.APIToken,
		Timeout: settings.APITimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	c.RegisterSingleton(ServiceLogger, logger)
	c.RegisterSingleton(ServiceAPI, client)
	c.RegisterSingleton(ServiceCache, cache.NewStatusCache(settings.CacheDuration, logger))
	c.RegisterSingleton(ServiceLimiter, limiter.NewRequestLimiter(settings.MaxConcurrent))
	c.RegisterSingleton(ServiceJitter, scheduler.NewJitter(settings.Delays, nil))
	c.RegisterSingleton(ServiceLoader, feed.NewLoader(settings.TimelineLoadTimeout, logger))

	c.RegisterFactory(ServiceManager, func() (interface{}, error) {
		statusCache, err := c.GetStatusCache()
		if err != nil {
			return nil, err
		}
		checkLimiter, err := c.GetLimiter()
		if err != nil {
			return nil, err
		}
		jitter, err := c.GetJitter()
		if err != nil {
			return nil, err
		}
		return reconciler.NewManager(client, statusCache, checkLimiter, jitter, logger,
			reconciler.WithMaxRateLimitRetries(settings.MaxRateLimitRetries),
			reconciler.WithCheckTimeout(settings.CheckTimeout),
			reconciler.WithMutationTimeout(settings.MutationTimeout),
		), nil
	})

	c.RegisterFactory(ServiceHost, func() (interface{}, error) {
		manager, err := c.GetManager()
		if err != nil {
			return nil, err
		}
		return feed.NewHost(manager, logger), nil
	})

	c.RegisterFactory(ServiceReloader, func() (interface{}, error) {
		loader, err := c.GetLoader()
		if err != nil {
			return nil, err
		}
		host, err := c.GetHost()
		if err != nil {
			return nil, err
		}
		return feed.NewReloader(loader, host, feed.ReloaderConfig{
			QueueSize:   settings.ReloadQueueSize,
			WaitTimeout: settings.ReloadWait,
			LoadTimeout: settings.TimelineLoadTimeout,
		}, logger), nil
	})

	return nil
}

// Close stops the reloader, unmounts every card and waits for in-flight
// checks. Services never created by a factory are left alone.
func (c *Container) Close() error {
	c.mu.RLock()
	reloader, _ := c.singletons[ServiceReloader].(*feed.Reloader)
	host, _ := c.singletons[ServiceHost].(*feed.Host)
	manager, _ := c.singletons[ServiceManager].(*reconciler.Manager)
	c.mu.RUnlock()

	if reloader != nil {
		reloader.Stop()
	}
	if host != nil {
		host.UnmountAll()
	}
	if manager != nil {
		manager.Wait()
	}
	return nil
}
