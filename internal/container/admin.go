package container

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminServer — monitoring/management поверхность контейнера:
// /healthz, /metrics и /status.
type adminServer struct {
	addr string
	srv  *http.Server
}

// newAdminServer возвращает nil при пустом адресе: admin-поверхность
// опциональна.
func newAdminServer(addr string) *adminServer {
	if addr == "" {
		return nil
	}
	return &adminServer{addr: addr}
}

// startAdmin поднимает админ-сервер, если он сконфигурирован.
func (c *Container) startAdmin() {
	if c.admin == nil {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", c.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", c.handleStatus)

	c.admin.srv = &http.Server{
		Addr:              c.admin.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("admin server listening", "addr", c.admin.addr)
		if err := c.admin.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("admin server error", "error", err)
		}
	}()
}

// handleHealthz отвечает ok, пока контейнер не потерял сконфигурированный
// брокер. Без брокера контейнер здоров по определению.
func (c *Container) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if c.conn != nil && !c.conn.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("degraded: broker disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatus отдаёт снимок состояния контейнера.
func (c *Container) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		ExecID      int64   `json:"exec_id"`
		State       State   `json:"state"`
		FlowName    string  `json:"flow_name,omitempty"`
		ProjectID   int64   `json:"project_id,omitempty"`
		CPU         float64 `json:"cpu_cores,omitempty"`
		MemoryBytes int64   `json:"memory_bytes,omitempty"`
	}

	resp := statusResponse{
		ExecID: c.execID,
		State:  c.State(),
	}
	if flow := c.Flow(); flow != nil {
		resp.FlowName = flow.FlowName
		resp.ProjectID = flow.ProjectID
	}
	alloc := c.Allocation()
	if alloc.HasCPU {
		resp.CPU = alloc.CPU
	}
	if alloc.HasMemory {
		resp.MemoryBytes = alloc.MemoryBytes
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		c.logger.Warn("failed to encode status response", "error", err)
	}
}

// Shutdown останавливает сервер, если он был запущен.
func (a *adminServer) Shutdown() error {
	if a == nil || a.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.srv.Shutdown(ctx)
}
