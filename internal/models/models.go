package models

import (
	"net"
	"strconv"
	"time"
)

// ProbeStatus is the outcome classification of a single probe.
type ProbeStatus string

const (
	StatusOnline ProbeStatus = "online"
	StatusError  ProbeStatus = "error"
)

// LocalServerName is the canonical name the implicit local-host probe
// stores its samples under.
const LocalServerName = "local"

// ServerTarget describes one monitored host as resolved by configuration.
// Auth is either Password or KeyPath (with optional KeyPassphrase).
type ServerTarget struct {
	Name          string
	Host          string
	Port          int
	User          string
	Password      string
	KeyPath       string
	KeyPassphrase string
	JumpRef       string
	DiskPath      string
	IsLocal       bool
}

// Addr returns the host:port dial address for the target.
func (t ServerTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// DiskMount returns the filesystem path whose usage is probed.
func (t ServerTarget) DiskMount() string {
	if t.DiskPath == "" {
		return "/"
	}
	return t.DiskPath
}

// Registry is the resolved set of targets for one configuration snapshot.
// Names are unique within a snapshot (enforced at config build time) and
// jump references resolve by name against the same snapshot.
type Registry struct {
	targets []ServerTarget
	byName  map[string]ServerTarget
}

// NewRegistry builds a registry from an ordered target list.
func NewRegistry(targets []ServerTarget) *Registry {
	byName := make(map[string]ServerTarget, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	return &Registry{targets: targets, byName: byName}
}

// Targets returns the ordered target list.
func (r *Registry) Targets() []ServerTarget { return r.targets }

// Lookup resolves a target by name, typically a jump reference.
func (r *Registry) Lookup(name string) (ServerTarget, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ProbeResult is the ephemeral outcome of one probe attempt. Numeric
// fields default to 0 and CPUModel to "N/A" on any failure path.
type ProbeResult struct {
	Name        string
	Host        string
	Status      ProbeStatus
	CPUPercent  float64
	CPUCores    int
	CPUModel    string
	RAMPercent  float64
	RAMUsedGB   float64
	RAMTotalGB  float64
	DiskPercent float64
	DiskUsedGB  float64
	DiskTotalGB float64
	Err         string
}

// StatSample is one persisted utilization measurement.
type StatSample struct {
	ServerName  string
	Timestamp   time.Time
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
}

// Resource identifies which utilization series an alert rule watches.
type Resource string

const (
	ResourceCPU  Resource = "cpu"
	ResourceRAM  Resource = "ram"
	ResourceDisk Resource = "disk"
)

// Valid reports whether the resource names a known series.
func (r Resource) Valid() bool {
	return r == ResourceCPU || r == ResourceRAM || r == ResourceDisk
}

// AlertRule is a threshold rule over a trailing window. The collector
// side only mutates LastTriggeredAt; everything else is owned by rule CRUD.
type AlertRule struct {
	ID              int64
	Name            string
	ServerPattern   string
	Resource        Resource
	Threshold       float64
	WindowMinutes   int
	Recipients      string
	Enabled         bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// CollectorStatus is the shared per-cycle status snapshot. It is written
// whole under a single writer lock and read via value copy.
type CollectorStatus struct {
	LastCycleStart  time.Time
	LastCycleEnd    time.Time
	LastCycleTime   time.Duration
	ConfiguredCount int
	ServerNames     []string
	Processed       int
	Failed          int
	UpdatedAt       time.Time
}
