package services

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/internal/database"
)

type HealthService struct {
	config *config.Config
	logger *logrus.Logger
	db     *database.Database

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
	systemMetrics     *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database) *HealthService {
	hs := &HealthService{
		config: cfg,
		logger: logger,
		db:     db,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.systemMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"})

	// Register metrics with error handling - ignore if already registered
	for _, collector := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck, hs.systemMetrics} {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register health metric")
			}
		}
	}

	go hs.collectSystemMetrics()

	return hs
}

func (s *HealthService) CheckHealth() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Critical dependencies
	criticalServices := map[string]func() error{
		"postgresql": s.checkPostgreSQL,
	}

	// Non-critical dependencies: Redis only fronts the Postgres read path
	nonCriticalServices := map[string]func() error{
		"redis": s.checkRedis,
	}

	allCriticalHealthy := true
	for name, checkFunc := range criticalServices {
		if err := checkFunc(); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	for name, checkFunc := range nonCriticalServices {
		if err := checkFunc(); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) checkPostgreSQL() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.PG.Ping(ctx)
}

func (s *HealthService) checkRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.Redis.Ping(ctx).Err()
}

func (s *HealthService) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats

	for range ticker.C {
		runtime.ReadMemStats(&memStats)

		s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
	}
}

func (s *HealthService) updateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
