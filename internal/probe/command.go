package probe

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"falconeye/internal/models"
)

// The five metric sub-commands run inside one composite remote script.
// Each is wrapped so a failure substitutes its sentinel instead of
// aborting the script; the parser turns sentinels back into typed
// per-field errors.
const (
	partsDelimiter = "###STATS_DELIMITER###"
	tripleDelim    = "###"

	sentinelCPUUsage = "ERROR_CPU_USAGE"
	sentinelRAM      = "ERROR_RAM"
	sentinelDisk     = "ERROR_DISK"
	sentinelCPUCores = "ERROR_CPU_CORES"
	sentinelCPUModel = "ERROR_CPU_MODEL"
)

// statCommand builds the composite script computing CPU busy percentage,
// the RAM triple (pct/used-GB/total-GB), the DISK triple (pct/used-KB/
// total-KB) for diskPath, the core count and the CPU model, joined by the
// delimiter and printed exactly once.
func statCommand(diskPath string) string {
	cpuUsage := `LC_ALL=C vmstat 1 2 | awk 'END{print 100-$15}'`
	ram := `awk '/^MemTotal:/{total=$2} /^MemAvailable:/{available=$2} END{used=total-available; if (total > 0) printf "%.2f###%.2f###%.2f", (used*100)/total, used/1024/1024, total/1024/1024; else print "` + sentinelRAM + `";}' /proc/meminfo`
	diskCmd := fmt.Sprintf(`LC_ALL=C df -P -B1K '%s' | awk 'NR==2 {printf "%%s###%%s###%%s", substr($5, 1, length($5)-1), $3, $2}'`, diskPath)
	cores := `nproc 2>/dev/null || grep -c ^processor /proc/cpuinfo 2>/dev/null || echo 0`
	model := `grep 'model name' /proc/cpuinfo | head -n1 | cut -d: -f2 | xargs 2>/dev/null || echo 'N/A'`

	return fmt.Sprintf(`
set -e; set -o pipefail;
CPU_USAGE_OUT=$(%s 2>/dev/null || echo "%s");
RAM_OUT=$(%s 2>/dev/null || echo "%s");
DISK_OUT=$(%s 2>/dev/null || echo "%s");
CPU_CORES_OUT=$(%s 2>/dev/null || echo "%s");
CPU_MODEL_OUT=$(%s 2>/dev/null || echo "%s");
printf "%%s%s%%s%s%%s%s%%s%s%%s" "$CPU_USAGE_OUT" "$RAM_OUT" "$DISK_OUT" "$CPU_CORES_OUT" "$CPU_MODEL_OUT";
`,
		cpuUsage, sentinelCPUUsage,
		ram, sentinelRAM,
		diskCmd, sentinelDisk,
		cores, sentinelCPUCores,
		model, sentinelCPUModel,
		partsDelimiter, partsDelimiter, partsDelimiter, partsDelimiter)
}

// applyOutput implements the parsing contract: exactly 5 delimiter-separated
// parts, each validated independently. Field errors are joined into the
// result's error text; status stays online only with zero field errors.
func applyOutput(res *models.ProbeResult, stdout, stderr string, exitCode int) {
	raw := strings.TrimSpace(stdout)
	errOut := strings.TrimSpace(stderr)

	if exitCode != 0 {
		res.Status = models.StatusError
		msg := fmt.Sprintf("remote script execution failed on %s (exit code: %d)", res.Name, exitCode)
		if errOut != "" {
			msg += " stderr: " + excerpt(errOut, 150)
		} else if raw != "" {
			msg += " stdout: " + excerpt(raw, 100)
		} else {
			msg += " with no stdout or stderr"
		}
		res.Err = msg
		return
	}
	if raw == "" {
		res.Status = models.StatusError
		res.Err = fmt.Sprintf("no output from remote command on %s, though script reported success (exit code 0)", res.Name)
		return
	}

	parts := strings.Split(raw, partsDelimiter)
	if len(parts) != 5 {
		res.Status = models.StatusError
		res.Err = fmt.Sprintf("output format error: expected 5 parts, got %d; output: %q", len(parts), excerpt(raw, 150))
		return
	}

	var fieldErrs []string
	fail := func(msg string) { fieldErrs = append(fieldErrs, msg) }

	if v, err := parseCPUUsage(parts[0]); err != nil {
		fail(err.Error())
	} else {
		res.CPUPercent = v
	}

	if pct, used, total, err := parseTriple(parts[1], sentinelRAM, "RAM"); err != nil {
		fail(err.Error())
	} else {
		res.RAMPercent, res.RAMUsedGB, res.RAMTotalGB = pct, used, total
	}

	if pct, usedKB, totalKB, err := parseTriple(parts[2], sentinelDisk, "disk"); err != nil {
		fail(err.Error())
	} else {
		res.DiskPercent = pct
		res.DiskUsedGB = kbToGB(usedKB)
		res.DiskTotalGB = kbToGB(totalKB)
	}

	if v, err := parseCores(parts[3]); err != nil {
		fail(err.Error())
		res.CPUCores = 0
	} else {
		res.CPUCores = v
	}

	if v, err := parseModel(parts[4]); err != nil {
		fail(err.Error())
		res.CPUModel = "N/A"
	} else {
		res.CPUModel = v
	}

	if len(fieldErrs) == 0 {
		res.Status = models.StatusOnline
		res.Err = ""
		return
	}
	res.Status = models.StatusError
	res.Err = strings.Join(fieldErrs, " | ")
}

func parseCPUUsage(s string) (float64, error) {
	if s == "" || strings.Contains(s, sentinelCPUUsage) {
		return 0, fmt.Errorf("CPU usage data retrieval failed")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CPU usage value: %q", s)
	}
	return v, nil
}

func parseTriple(s, sentinel, label string) (a, b, c float64, err error) {
	if s == "" || strings.Contains(s, sentinel) {
		return 0, 0, 0, fmt.Errorf("%s data retrieval failed", label)
	}
	sub := strings.Split(s, tripleDelim)
	if len(sub) != 3 {
		return 0, 0, 0, fmt.Errorf("unexpected %s format: %q", label, s)
	}
	vals := make([]float64, 3)
	for i, p := range sub {
		v, convErr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("invalid %s values: %q", label, s)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

func parseCores(s string) (int, error) {
	if s == "" || strings.Contains(s, sentinelCPUCores) {
		return 0, fmt.Errorf("CPU cores data retrieval failed")
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid CPU cores value: %q", s)
	}
	return v, nil
}

func parseModel(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.Contains(s, sentinelCPUModel) || strings.EqualFold(trimmed, "N/A") {
		return "N/A", fmt.Errorf("CPU model data retrieval failed or N/A")
	}
	return trimmed, nil
}

// kbToGB converts kilobytes to gigabytes rounded to 2 decimals.
func kbToGB(kb float64) float64 {
	return math.Round(kb/(1024*1024)*100) / 100
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
