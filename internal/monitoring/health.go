package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-softmax/internal/logger"
)

// Version is reported by /status.
var Version = "dev"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	System    SystemInfo        `json:"system"`
	Engine    EngineInfo        `json:"engine"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GOMAXPROCS   int    `json:"gomaxprocs"`
	NumGoroutine int    `json:"num_goroutine"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// EngineInfo describes the softmax engine serving requests
type EngineInfo struct {
	Workers             int    `json:"workers"`
	MinParallelElements int    `json:"min_parallel_elements"`
	RowBatch            int    `json:"row_batch"`
	ExpImpl             string `json:"exp_impl"`
	FlightAddr          string `json:"flight_addr,omitempty"`
}

// CheckFunc reports an unhealthy dependency by returning an error.
type CheckFunc func(ctx context.Context) error

// HealthMonitor serves health, status and Prometheus endpoints
type HealthMonitor struct {
	startTime time.Time
	engine    EngineInfo
	log       *logger.Logger

	mu      sync.RWMutex
	server  *http.Server
	stopped bool
	checks  map[string]CheckFunc
}

func NewHealthMonitor(engine EngineInfo) *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		engine:    engine,
		log:       logger.With("monitoring"),
		checks:    make(map[string]CheckFunc),
	}
}

// AddCheck registers a named check run on every health request.
func (hm *HealthMonitor) AddCheck(name string, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = fn
}

func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth) // Kubernetes compatibility
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	return mux
}

// Start serves on addr until Stop is called. It returns nil after a clean
// shutdown, or at once if Stop already ran.
func (hm *HealthMonitor) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	hm.mu.Lock()
	if hm.stopped {
		hm.mu.Unlock()
		return nil
	}
	hm.server = srv
	hm.mu.Unlock()

	hm.log.Info("health monitor starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.Lock()
	hm.stopped = true
	srv := hm.server
	hm.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.getHealthStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	status := hm.getHealthStatus(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (hm *HealthMonitor) getHealthStatus(ctx context.Context) HealthStatus {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	checks := make(map[string]CheckFunc, len(hm.checks))
	for name, fn := range hm.checks {
		names = append(names, name)
		checks[name] = fn
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	status := "healthy"
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			status = "degraded"
			results[name] = err.Error()
			hm.log.Warn("health check failed", "check", name, "error", err)
			continue
		}
		results[name] = "ok"
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
		System:    getSystemInfo(),
		Engine:    hm.engine,
		Checks:    results,
	}
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
