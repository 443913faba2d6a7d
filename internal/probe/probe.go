// Package probe retrieves CPU/RAM/disk utilization from remote hosts over
// SSH, optionally tunneling through a jump host, and parses the composite
// command output into a structured result. Every failure is captured in the
// result; nothing escapes a single probe.
package probe

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"falconeye/internal/models"
)

// Prober performs one-shot stat probes against remote targets.
type Prober struct {
	timeout time.Duration
	log     *slog.Logger
	dial    dialFunc
}

func New(timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{timeout: timeout, log: logger, dial: dialSSH}
}

// Probe connects to the target (via its jump host when referenced), runs
// the composite stat command and parses the output. The returned result is
// always fully sanitized; errors are reported through Status and Err.
func (p *Prober) Probe(target models.ServerTarget, registry *models.Registry) models.ProbeResult {
	res := models.ProbeResult{
		Name:     target.Name,
		Host:     target.Host,
		Status:   models.StatusError,
		CPUModel: "N/A",
	}
	defer sanitize(&res)

	// Configuration gates run before any network access.
	if target.KeyPath == "" && target.Password == "" {
		res.Err = fmt.Sprintf("target server authentication details (password/key) missing in configuration for %q", target.Name)
		p.log.Warn("probe auth missing", "server", target.Name)
		return res
	}
	if target.JumpRef != "" {
		jump, ok := registry.Lookup(target.JumpRef)
		if !ok {
			res.Err = fmt.Sprintf("jump server configuration %q not found for target %q", target.JumpRef, target.Name)
			p.log.Error("probe jump ref unresolved", "server", target.Name, "jump", target.JumpRef)
			return res
		}
		if jump.KeyPath == "" && jump.Password == "" {
			res.Err = fmt.Sprintf("jump server %q authentication details (password/key) missing", jump.Name)
			p.log.Warn("probe jump auth missing", "server", target.Name, "jump", jump.Name)
			return res
		}
	}

	run, err := p.dial(target, registry, p.timeout)
	if err != nil {
		res.Err = classifyDialError(target.Name, err)
		p.log.Warn("probe connect failed", "server", target.Name, "err", err)
		return res
	}
	defer run.close()

	stdout, stderr, exitCode, err := run.run(statCommand(target.DiskMount()))
	if err != nil {
		res.Err = fmt.Sprintf("remote command execution failed on %s: %v", target.Name, err)
		p.log.Warn("probe exec failed", "server", target.Name, "err", err)
		return res
	}

	applyOutput(&res, stdout, stderr, exitCode)
	if res.Status == models.StatusOnline {
		p.log.Debug("probe ok", "server", target.Name)
	} else {
		p.log.Warn("probe error", "server", target.Name, "err", res.Err)
	}
	return res
}

// sanitize is applied on every exit path: numeric fields fall back to 0 on
// anything non-finite and the model string to "N/A" when empty.
func sanitize(res *models.ProbeResult) {
	for _, f := range []*float64{
		&res.CPUPercent, &res.RAMPercent, &res.RAMUsedGB, &res.RAMTotalGB,
		&res.DiskPercent, &res.DiskUsedGB, &res.DiskTotalGB,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	if res.CPUCores < 0 {
		res.CPUCores = 0
	}
	if strings.TrimSpace(res.CPUModel) == "" {
		res.CPUModel = "N/A"
	}
	if res.Status == models.StatusError && res.Err == "" {
		res.Err = "unknown error during data retrieval"
	}
}
