package collector

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"falconeye/internal/models"
)

// Prober fetches stats for one remote target.
type Prober interface {
	Probe(target models.ServerTarget, registry *models.Registry) models.ProbeResult
}

// HostProber samples the local host.
type HostProber interface {
	Collect() (models.ProbeResult, error)
}

// Store persists samples. Implemented by *db.Repository.
type Store interface {
	InsertSample(ctx context.Context, s models.StatSample, keep int) error
}

// Evaluator runs the alert pass after each cycle's samples are persisted.
type Evaluator interface {
	Evaluate(ctx context.Context)
}

// Service drives the permanent collection loop: local probe first, then
// remote probes through a bounded worker pool, then status update, then
// alert evaluation, then sleep.
type Service struct {
	registry *models.Registry
	store    Store
	prober   Prober
	local    HostProber
	eval     Evaluator
	status   *StatusTracker
	interval time.Duration
	keep     int
	log      *slog.Logger
	now      func() time.Time
}

func NewService(registry *models.Registry, store Store, prober Prober, local HostProber,
	eval Evaluator, status *StatusTracker, interval time.Duration, retentionCap int, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		prober:   prober,
		local:    local,
		eval:     eval,
		status:   status,
		interval: interval,
		keep:     retentionCap,
		log:      logger,
		now:      time.Now,
	}
}

// CanonicalServerNames builds the deduplicated, sorted name list for status
// reporting, guaranteeing a "local" entry even when no configured target is
// explicitly marked local.
func CanonicalServerNames(registry *models.Registry) []string {
	seen := make(map[string]struct{})
	hasLocal := false
	for _, t := range registry.Targets() {
		seen[t.Name] = struct{}{}
		if t.IsLocal || t.Name == models.LocalServerName {
			hasLocal = true
		}
	}
	if !hasLocal {
		seen[models.LocalServerName] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes cycles until the context is cancelled. The first cycle
// starts immediately, the rest follow the configured interval.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("collector started",
		"interval", s.interval,
		"servers", s.status.ServerNames())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("collector stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes exactly one collection cycle. Local probing always
// precedes remote probing, and alert evaluation runs strictly after every
// probe of the cycle has resolved.
func (s *Service) RunCycle(ctx context.Context) {
	start := s.now()
	s.status.StartCycle(start)
	s.log.Info("collection cycle started", "start", start)

	processed, failed := 0, 0
	handled := map[string]bool{}

	// Local counts as attempted even when it errors.
	processed++
	handled[models.LocalServerName] = true
	if local, err := s.local.Collect(); err != nil {
		failed++
		s.log.Error("local probe failed", "err", err)
	} else {
		s.persist(ctx, local)
	}

	// is_local entries are covered by the host probe above and skipped
	// silently. The guard still catches same-named entries in a registry
	// that bypassed config validation, including a remote named "local".
	var remote []models.ServerTarget
	for _, t := range s.registry.Targets() {
		if t.IsLocal {
			continue
		}
		if handled[t.Name] {
			s.log.Warn("skipping duplicate server name in cycle", "server", t.Name)
			continue
		}
		handled[t.Name] = true
		remote = append(remote, t)
	}

	for res := range s.probeAll(remote) {
		processed++
		if res.Status == models.StatusOnline {
			s.persist(ctx, res)
		} else {
			failed++
			s.log.Warn("remote probe failed", "server", res.Name, "err", res.Err)
		}
	}

	end := s.now()
	s.status.CompleteCycle(end, processed, failed)
	s.log.Info("collection cycle finished",
		"duration", end.Sub(start),
		"processed", processed,
		"failed", failed)

	s.evaluateSafe(ctx)
}

// probeAll fans the remote targets out over a bounded worker pool. Pool
// size adapts to the target count and available parallelism, minimum 1.
// Each target's outcome is independent; a panic inside one probe is
// converted into an error result for that target only.
func (s *Service) probeAll(targets []models.ServerTarget) <-chan models.ProbeResult {
	results := make(chan models.ProbeResult, len(targets))
	if len(targets) == 0 {
		close(results)
		return results
	}

	workers := len(targets)
	if n := runtime.NumCPU(); workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan models.ServerTarget)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- s.probeSafe(t)
			}
		}()
	}
	go func() {
		for _, t := range targets {
			jobs <- t
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()
	return results
}

func (s *Service) probeSafe(target models.ServerTarget) (res models.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("probe panicked", "server", target.Name, "panic", r)
			res = models.ProbeResult{
				Name:     target.Name,
				Host:     target.Host,
				Status:   models.StatusError,
				CPUModel: "N/A",
				Err:      "probe task panicked",
			}
		}
	}()
	return s.prober.Probe(target, s.registry)
}

// persist stores one sample under the result's resolved name. A storage
// failure loses the sample for this tick and is only logged.
func (s *Service) persist(ctx context.Context, res models.ProbeResult) {
	sample := models.StatSample{
		ServerName:  res.Name,
		Timestamp:   s.now().UTC(),
		CPUPercent:  res.CPUPercent,
		RAMPercent:  res.RAMPercent,
		DiskPercent: res.DiskPercent,
	}
	if err := s.store.InsertSample(ctx, sample, s.keep); err != nil {
		s.log.Error("insert sample", "server", res.Name, "err", err)
	}
}

func (s *Service) evaluateSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("alert evaluation panicked", "panic", r)
		}
	}()
	s.eval.Evaluate(ctx)
}
