// Command gpu-cluster-executor is a standalone HTTP surface over
// internal/gputask's nvidia-smi snapshot, serving as a device-selection
// authority the other binaries (api-server, job-worker, analyzer-server)
// can poll independently of holding their own GPU Task Manager instance.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/config"
	"ragindex/internal/gputask"
	"ragindex/internal/logging"
	"ragindex/internal/metrics"
)

func main() {
	config.Load()
	log := logging.FromEnv("gpu-cluster-executor")
	defer log.Sync()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/gpu/status", gpuStatus)
	r.GET("/gpu/temperatures", gpuTemperatures)

	addr := config.Str("GPU_CLUSTER_EXECUTOR_ADDR", ":8091")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	log.Info("gpu-cluster-executor listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("listen and serve", zap.Error(err))
	}
}

func gpuStatus(c *gin.Context) {
	devices, err := gputask.Devices(context.Background())
	if err != nil {
		writeErr(c, apperr.Dependency("gpu-cluster-executor.status", err))
		return
	}
	metrics.ObserveGPUDevices(devices)

	out := make([]gin.H, len(devices))
	for i, d := range devices {
		out[i] = gin.H{
			"index":           d.Index,
			"name":            d.Name,
			"total_memory_mb": d.TotalMemoryMB,
			"free_memory_mb":  d.FreeMemoryMB,
			"used_memory_mb":  d.UsedMemoryMB,
			"utilization_pct": d.UtilizationPct,
			"temperature_c":   d.TemperatureC,
		}
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func gpuTemperatures(c *gin.Context) {
	devices, err := gputask.Devices(context.Background())
	if err != nil {
		writeErr(c, apperr.Dependency("gpu-cluster-executor.temperatures", err))
		return
	}
	metrics.ObserveGPUDevices(devices)

	out := make(map[int]int, len(devices))
	for _, d := range devices {
		out[d.Index] = d.TemperatureC
	}
	c.JSON(http.StatusOK, gin.H{"temperatures": out})
}

func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.KindDependency):
		status = http.StatusBadGateway
	case apperr.Is(err, apperr.KindTransient):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
