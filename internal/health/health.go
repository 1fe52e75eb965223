// Package health отдаёт JSON-сводку по зависимостям сервиса и liveness/readiness пробы.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status — состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// PingFunc проверяет доступность зависимости.
type PingFunc func(ctx context.Context) error

type probe struct {
	name     string
	ping     PingFunc
	critical bool
}

// Handler выполняет зарегистрированные проверки параллельно, каждую со своим таймаутом.
type Handler struct {
	mu        sync.RWMutex
	probes    map[string]probe
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewHandler создаёт handler; version попадает в ответ /healthz.
func NewHandler(version string) *Handler {
	return &Handler{
		probes:    make(map[string]probe),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// Register добавляет критичную проверку: её отказ делает сервис неготовым.
func (h *Handler) Register(name string, ping PingFunc) {
	h.add(probe{name: name, ping: ping, critical: true})
}

// RegisterOptional добавляет проверку, отказ которой только понижает статус до degraded
// (например, кэш, без которого сервис продолжает работать).
func (h *Handler) RegisterOptional(name string, ping PingFunc) {
	h.add(probe{name: name, ping: ping})
}

func (h *Handler) add(p probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[p.name] = p
}

// Run выполняет все проверки и сводит общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	probes := make([]probe, 0, len(h.probes))
	for _, p := range h.probes {
		probes = append(probes, p)
	}
	h.mu.RUnlock()
	sort.Slice(probes, func(i, j int) bool { return probes[i].name < probes[j].name })

	results := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.check(ctx, p)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(results))
	for _, c := range results {
		checks[c.Name] = c
		switch {
		case c.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case c.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

func (h *Handler) check(ctx context.Context, p probe) Check {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.ping(ctx)
	c := Check{Name: p.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		c.Message = err.Error()
		c.Status = StatusDegraded
		if p.critical {
			c.Status = StatusUnhealthy
		}
	}
	return c
}

// ServeHTTP отдаёт сводку; 503, если упала критичная проверка.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler отвечает "ready", если все критичные зависимости доступны.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Run(r.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler всегда отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}
