package collector

import (
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"falconeye/internal/models"
)

// LocalProber samples the host this process runs on through the platform
// stat API, no SSH involved.
type LocalProber struct {
	diskPath string
}

func NewLocalProber(diskPath string) *LocalProber {
	if diskPath == "" {
		diskPath = "/"
	}
	return &LocalProber{diskPath: diskPath}
}

// Collect gathers one utilization snapshot for the local host.
func (l *LocalProber) Collect() (models.ProbeResult, error) {
	res := models.ProbeResult{
		Name:     models.LocalServerName,
		Host:     models.LocalServerName,
		Status:   models.StatusOnline,
		CPUModel: "N/A",
	}

	// Short sampling window; instantaneous cpu.Percent(0, ...) reports
	// since-boot averages on the first call.
	cpuPcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return res, fmt.Errorf("local cpu usage: %w", err)
	}
	if len(cpuPcts) == 0 {
		return res, fmt.Errorf("local cpu usage: no data")
	}
	res.CPUPercent = cpuPcts[0]

	vm, err := mem.VirtualMemory()
	if err != nil {
		return res, fmt.Errorf("local memory usage: %w", err)
	}
	res.RAMPercent = vm.UsedPercent
	res.RAMUsedGB = bytesToGB(vm.Used)
	res.RAMTotalGB = bytesToGB(vm.Total)

	du, err := disk.Usage(l.diskPath)
	if err != nil {
		return res, fmt.Errorf("local disk usage for %s: %w", l.diskPath, err)
	}
	res.DiskPercent = du.UsedPercent
	res.DiskUsedGB = bytesToGB(du.Used)
	res.DiskTotalGB = bytesToGB(du.Total)

	if cores, err := cpu.Counts(true); err == nil {
		res.CPUCores = cores
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		res.CPUModel = infos[0].ModelName
	}
	return res, nil
}

func bytesToGB(b uint64) float64 {
	return math.Round(float64(b)/(1024*1024*1024)*100) / 100
}
