// Package gputask tracks GPU device inventory and the single in-flight
// GPU-bound task per process. It shells out to nvidia-smi for telemetry,
// offers best/free/coolest/wait-for-cooldown device selection, and
// enforces the cleanup rule needed when switching between LLM (Ollama)
// and framework (embedding/reranking) workloads, since both families
// hold device memory that the other needs released first.
package gputask

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskType identifies the kind of GPU-bound work in flight, used to pick
// the cleanup rule on a task switch.
type TaskType string

const (
	TaskIdle             TaskType = "idle"
	TaskOllamaAnalysis   TaskType = "ollama_analysis"
	TaskOllamaEnrichment TaskType = "ollama_enrichment"
	TaskEmbedding        TaskType = "pytorch_embedding"
	TaskReranking        TaskType = "pytorch_reranking"
)

func isOllamaTask(t TaskType) bool {
	return t == TaskOllamaAnalysis || t == TaskOllamaEnrichment
}

func isFrameworkTask(t TaskType) bool {
	return t == TaskEmbedding || t == TaskReranking
}

// Device is one GPU's current telemetry, as reported by nvidia-smi.
type Device struct {
	Index          int
	Name           string
	TotalMemoryMB  int
	FreeMemoryMB   int
	UsedMemoryMB   int
	UtilizationPct int
	TemperatureC   int
}

// CleanupFunc unloads GPU-resident state for a task family (e.g. Ollama
// "ollama stop <model>" per model, or a framework's CUDA cache release).
// Callers inject these since this package has no direct dependency on
// Ollama or any particular embedding runtime.
type CleanupFunc func(ctx context.Context) error

// Manager tracks the single in-flight GPU task and serializes
// acquire/release through an explicit per-process value rather than
// ambient global state, so multiple Managers (e.g. in tests) never
// contend on shared locks.
type Manager struct {
	mu               sync.Mutex
	log              *zap.Logger
	lastTask         TaskType
	current          *taskInfo
	cleanupOllama    CleanupFunc
	cleanupFramework CleanupFunc
}

type taskInfo struct {
	taskType  TaskType
	docID     string
	startedAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithOllamaCleanup(fn CleanupFunc) Option    { return func(m *Manager) { m.cleanupOllama = fn } }
func WithFrameworkCleanup(fn CleanupFunc) Option { return func(m *Manager) { m.cleanupFramework = fn } }

func New(log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{log: log, lastTask: TaskIdle}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Devices queries nvidia-smi for the current fleet snapshot.
func Devices(ctx context.Context) ([]Device, error) {
	out, err := runNvidiaSMI(ctx, "--query-gpu=index,name,memory.total,memory.free,memory.used,utilization.gpu,temperature.gpu", "csv,nounits,noheader")
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := splitCSVFields(line)
		if len(parts) < 7 {
			continue
		}
		devices = append(devices, Device{
			Index:          atoiOr(parts[0], 0),
			Name:           parts[1],
			TotalMemoryMB:  atoiOr(parts[2], 0),
			FreeMemoryMB:   atoiOr(parts[3], 0),
			UsedMemoryMB:   atoiOr(parts[4], 0),
			UtilizationPct: atoiOr(parts[5], 0),
			TemperatureC:   atoiOr(parts[6], 0),
		})
	}
	return devices, nil
}

func runNvidiaSMI(ctx context.Context, query, format string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi", query, "--format="+format)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gputask: nvidia-smi failed: %w", err)
	}
	return string(out), nil
}

func splitCSVFields(line string) []string {
	raw := strings.Split(line, ",")
	out := make([]string, len(raw))
	for i, f := range raw {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// BestDevice returns the index of the GPU with the most free memory
// meeting minFreeMB, or -1 if none qualify.
func BestDevice(devices []Device, minFreeMB int) int {
	best := -1
	bestFree := -1
	for _, d := range devices {
		if d.FreeMemoryMB >= minFreeMB && d.FreeMemoryMB > bestFree {
			best = d.Index
			bestFree = d.FreeMemoryMB
		}
	}
	return best
}

// FreeDevices returns every GPU meeting both the memory and temperature
// thresholds, sorted by descending free memory. Used for multi-GPU
// Ollama dispatch, where more than one device can take work at once.
func FreeDevices(devices []Device, minFreeMB, maxTempC int) []int {
	type cand struct {
		index int
		free  int
	}
	var candidates []cand
	for _, d := range devices {
		if d.FreeMemoryMB >= minFreeMB && (d.TemperatureC == 0 || d.TemperatureC <= maxTempC) {
			candidates = append(candidates, cand{d.Index, d.FreeMemoryMB})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].free > candidates[j].free })
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.index
	}
	return out
}

// CoolestDevice returns the index of the lowest-temperature GPU meeting
// minFreeMB, or -1 if none qualify.
func CoolestDevice(devices []Device, minFreeMB int) int {
	best := -1
	bestTemp := 1 << 30
	for _, d := range devices {
		if d.FreeMemoryMB < minFreeMB {
			continue
		}
		temp := effectiveTemp(d)
		if temp < bestTemp {
			best = d.Index
			bestTemp = temp
		}
	}
	return best
}

// effectiveTemp treats an unreported (zero) temperature reading as hot,
// so a device nvidia-smi couldn't read a sensor for never wins a
// coolest/cooldown comparison by default.
func effectiveTemp(d Device) int {
	if d.TemperatureC == 0 {
		return 100
	}
	return d.TemperatureC
}

const defaultCooldownPollInterval = 2 * time.Second

// WaitForCooldown polls nvidia-smi until the device at index reports a
// temperature at or below maxTempC, or until timeout elapses. It
// returns true if the device cooled down in time, false on timeout.
// Callers that found no immediately-free device but do have a coolest
// candidate use this to wait for that candidate to actually become
// usable, instead of dispatching onto a GPU that is still too hot.
func WaitForCooldown(ctx context.Context, index, maxTempC int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(defaultCooldownPollInterval)
	defer ticker.Stop()

	for {
		devices, err := Devices(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range devices {
			if d.Index == index && effectiveTemp(d) <= maxTempC {
				return true, nil
			}
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Acquire marks taskType as in-flight, running whichever cleanup the
// transition requires: switching from an Ollama task to a framework task
// unloads Ollama models first, and the reverse releases framework-held
// memory first.
func (m *Manager) Acquire(ctx context.Context, taskType TaskType, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cleanupForSwitch(ctx, taskType); err != nil {
		return err
	}

	m.current = &taskInfo{taskType: taskType, docID: docID, startedAt: time.Now()}
	m.lastTask = taskType
	if m.log != nil {
		m.log.Info("gpu task acquired", zap.String("task_type", string(taskType)), zap.String("doc_id", docID))
	}
	return nil
}

func (m *Manager) cleanupForSwitch(ctx context.Context, next TaskType) error {
	if m.lastTask == TaskIdle {
		return nil
	}
	switch {
	case isOllamaTask(m.lastTask) && isFrameworkTask(next):
		if m.cleanupOllama != nil {
			return m.cleanupOllama(ctx)
		}
	case isFrameworkTask(m.lastTask) && isOllamaTask(next):
		if m.cleanupFramework != nil {
			return m.cleanupFramework(ctx)
		}
	}
	return nil
}

// Release clears the in-flight task, optionally running the framework
// cleanup hook.
func (m *Manager) Release(ctx context.Context, cleanupAfter bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.log != nil {
		m.log.Info("gpu task released",
			zap.String("task_type", string(m.current.taskType)),
			zap.String("doc_id", m.current.docID),
			zap.Duration("duration", time.Since(m.current.startedAt)))
	}
	m.current = nil

	if cleanupAfter && m.cleanupFramework != nil {
		return m.cleanupFramework(ctx)
	}
	return nil
}

// WithTask runs fn while holding the task slot, always releasing on
// return regardless of whether fn succeeds.
func (m *Manager) WithTask(ctx context.Context, taskType TaskType, docID string, cleanupAfter bool, fn func() error) error {
	if err := m.Acquire(ctx, taskType, docID); err != nil {
		return err
	}
	defer m.Release(ctx, cleanupAfter)
	return fn()
}
