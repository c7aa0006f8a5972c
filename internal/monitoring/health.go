package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-tilecheck/internal/harness"
	"github.com/23skdu/longbow-tilecheck/internal/logger"
)

// Sweep states reported by /status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StatePassed  = "passed"
	StateFailed  = "failed"
)

// HealthStatus represents the health status of the harness
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Sweep     SweepInfo     `json:"sweep"`
	Alerts    []Alert       `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// SweepInfo is the live view of the configuration sweep.
type SweepInfo struct {
	State       string    `json:"state"`
	Device      string    `json:"device"`
	Trials      int       `json:"trials"`
	Run         int       `json:"run"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Progress    float64   `json:"progress"`
	LastConfig  string    `json:"last_config,omitempty"`
	AvgTrialMs  float64   `json:"avg_trial_ms"`
	LastTrialAt time.Time `json:"last_trial_at"`
}

// Alert represents a harness alert
type Alert struct {
	Level     string    `json:"level"` // warning, error, critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const maxAlerts = 100

// SweepMonitor serves health and progress of a running sweep. It implements
// harness.Observer.
type SweepMonitor struct {
	startTime time.Time
	server    *http.Server
	mu        sync.RWMutex
	addr      net.Addr
	alerts    []Alert
	sweep     SweepInfo
	trialTime time.Duration
}

var _ harness.Observer = (*SweepMonitor)(nil)

func NewSweepMonitor() *SweepMonitor {
	sm := &SweepMonitor{
		startTime: time.Now(),
		sweep:     SweepInfo{State: StateIdle},
	}
	sm.server = &http.Server{
		Handler:      sm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return sm
}

// Handler returns the monitor's HTTP routes.
func (sm *SweepMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", sm.handleHealth)
	mux.HandleFunc("/healthz", sm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", sm.handleStatus)
	mux.HandleFunc("/admin/alerts", sm.handleAlerts)
	return mux
}

// Start serves the monitor on addr until Stop is called. It returns
// http.ErrServerClosed after Stop, including when Stop ran first.
func (sm *SweepMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor listen on %s: %w", addr, err)
	}
	sm.mu.Lock()
	sm.addr = ln.Addr()
	sm.mu.Unlock()

	logger.Log.Info("monitor starting", "addr", ln.Addr().String())
	return sm.server.Serve(ln)
}

// Addr is the bound address once Start is listening, nil before.
func (sm *SweepMonitor) Addr() net.Addr {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.addr
}

func (sm *SweepMonitor) Stop(ctx context.Context) error {
	return sm.server.Shutdown(ctx)
}

func (sm *SweepMonitor) SweepStarted(device string, trials int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sweep = SweepInfo{State: StateRunning, Device: device, Trials: trials}
	sm.trialTime = 0
}

func (sm *SweepMonitor) TrialDone(res harness.TrialResult) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := &sm.sweep
	s.Run++
	s.LastConfig = res.Config.String()
	s.LastTrialAt = time.Now()
	sm.trialTime += res.Duration
	s.AvgTrialMs = float64(sm.trialTime.Nanoseconds()) / float64(s.Run) / 1e6
	if s.Trials > 0 {
		s.Progress = float64(s.Run) / float64(s.Trials)
	}

	switch {
	case res.Passed:
		s.Passed++
	case res.Err != nil:
		s.Failed++
		sm.addAlertLocked("error", "trial", fmt.Sprintf("trial %d: %v", res.Index, res.Err))
	}
}

func (sm *SweepMonitor) SweepDone(rep *harness.Report) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if rep.OK() {
		sm.sweep.State = StatePassed
		return
	}
	sm.sweep.State = StateFailed
	if rep.Err != nil && len(rep.Failures) == 0 {
		sm.addAlertLocked("critical", "device", rep.Err.Error())
	}
}

// AddAlert records an alert and logs it.
func (sm *SweepMonitor) AddAlert(level, component, message string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.addAlertLocked(level, component, message)
}

func (sm *SweepMonitor) addAlertLocked(level, component, message string) {
	sm.alerts = append(sm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(sm.alerts) > maxAlerts {
		sm.alerts = sm.alerts[1:]
	}
	logger.Log.Warn("alert", "level", level, "component", component, "message", message)
}

// Status returns a snapshot of the monitor state.
func (sm *SweepMonitor) Status() HealthStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := "healthy"
	for _, a := range sm.alerts {
		if a.Level == "critical" {
			status = "critical"
			break
		}
		if a.Level == "error" {
			status = "degraded"
		}
	}

	alerts := make([]Alert, len(sm.alerts))
	copy(alerts, sm.alerts)

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(sm.startTime),
		System:    systemInfo(),
		Sweep:     sm.sweep,
		Alerts:    alerts,
	}
}

func (sm *SweepMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := sm.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "critical" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (sm *SweepMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sm.Status())
}

func (sm *SweepMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sm.Status().Alerts)
	case http.MethodDelete:
		sm.mu.Lock()
		sm.alerts = sm.alerts[:0]
		sm.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
