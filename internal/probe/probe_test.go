package probe

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"falconeye/internal/models"
)

// fakeRunner returns canned command output without any SSH transport.
type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	runErr   error
	closed   bool
}

func (f *fakeRunner) run(string) (string, string, int, error) {
	return f.stdout, f.stderr, f.exitCode, f.runErr
}

func (f *fakeRunner) close() { f.closed = true }

func newTestProber(t *testing.T, r *fakeRunner, dialErr error) (*Prober, *int) {
	t.Helper()
	dials := new(int)
	p := New(25*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.dial = func(models.ServerTarget, *models.Registry, time.Duration) (runner, error) {
		*dials++
		if dialErr != nil {
			return nil, dialErr
		}
		return r, nil
	}
	return p, dials
}

func testRegistry(t *testing.T, targets ...models.ServerTarget) *models.Registry {
	t.Helper()
	require.NotEmpty(t, targets)
	return models.NewRegistry(targets)
}

func goodOutput() string {
	return strings.Join([]string{
		"12.5",
		"45.50###7.28###16.00",
		"62###52428800###104857600",
		"8",
		"Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz",
	}, partsDelimiter)
}

func target(name string) models.ServerTarget {
	return models.ServerTarget{Name: name, Host: name + ".example.com", User: "monitor", Password: "secret"}
}

func TestProbeParsesHealthyOutput(t *testing.T) {
	p, _ := newTestProber(t, &fakeRunner{stdout: goodOutput()}, nil)
	tgt := target("web-01")
	res := p.Probe(tgt, testRegistry(t, tgt))

	assert.Equal(t, models.StatusOnline, res.Status)
	assert.Empty(t, res.Err)
	assert.Equal(t, 12.5, res.CPUPercent)
	assert.Equal(t, 45.5, res.RAMPercent)
	assert.Equal(t, 7.28, res.RAMUsedGB)
	assert.Equal(t, 16.0, res.RAMTotalGB)
	assert.Equal(t, 62.0, res.DiskPercent)
	// 52428800 KB and 104857600 KB are exactly 50 and 100 GB.
	assert.Equal(t, 50.0, res.DiskUsedGB)
	assert.Equal(t, 100.0, res.DiskTotalGB)
	assert.Equal(t, 8, res.CPUCores)
	assert.Equal(t, "Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz", res.CPUModel)
}

func TestProbeMissingAuthSkipsDial(t *testing.T) {
	p, dials := newTestProber(t, &fakeRunner{stdout: goodOutput()}, nil)
	tgt := models.ServerTarget{Name: "web-01", Host: "web-01.example.com", User: "monitor"}
	res := p.Probe(tgt, testRegistry(t, tgt))

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "authentication details (password/key) missing")
	assert.Equal(t, 0, *dials, "no connection attempt without credentials")
}

func TestProbeUnresolvedJumpRefSkipsDial(t *testing.T) {
	p, dials := newTestProber(t, &fakeRunner{stdout: goodOutput()}, nil)
	tgt := target("web-01")
	tgt.JumpRef = "bastion"
	res := p.Probe(tgt, testRegistry(t, tgt))

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, `jump server configuration "bastion" not found`)
	assert.Equal(t, 0, *dials)
}

func TestProbeJumpWithoutAuthSkipsDial(t *testing.T) {
	p, dials := newTestProber(t, &fakeRunner{stdout: goodOutput()}, nil)
	bastion := models.ServerTarget{Name: "bastion", Host: "bastion.example.com", User: "monitor"}
	tgt := target("web-01")
	tgt.JumpRef = "bastion"
	res := p.Probe(tgt, testRegistry(t, tgt, bastion))

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, `jump server "bastion" authentication details`)
	assert.Equal(t, 0, *dials)
}

func TestProbeDialErrorIsClassified(t *testing.T) {
	p, _ := newTestProber(t, nil, errors.New("ssh: unable to authenticate, attempted methods [none password]"))
	tgt := target("web-01")
	res := p.Probe(tgt, testRegistry(t, tgt))

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "authentication failed")
	assert.Contains(t, res.Err, "web-01")
}

func TestProbeRunnerClosedAfterUse(t *testing.T) {
	r := &fakeRunner{stdout: goodOutput()}
	p, _ := newTestProber(t, r, nil)
	tgt := target("web-01")
	p.Probe(tgt, testRegistry(t, tgt))

	assert.True(t, r.closed)
}

func TestProbeExecErrorReported(t *testing.T) {
	p, _ := newTestProber(t, &fakeRunner{runErr: errors.New("session channel refused")}, nil)
	tgt := target("web-01")
	res := p.Probe(tgt, testRegistry(t, tgt))

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "remote command execution failed on web-01")
}

func TestApplyOutputNonZeroExit(t *testing.T) {
	res := models.ProbeResult{Name: "web-01"}
	applyOutput(&res, "", "bash: vmstat: command not found", 127)

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "exit code: 127")
	assert.Contains(t, res.Err, "vmstat: command not found")
}

func TestApplyOutputEmptyWithZeroExit(t *testing.T) {
	res := models.ProbeResult{Name: "web-01"}
	applyOutput(&res, "  \n ", "", 0)

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "no output from remote command")
	assert.Contains(t, res.Err, "exit code 0")
}

func TestApplyOutputWrongPartCount(t *testing.T) {
	res := models.ProbeResult{Name: "web-01"}
	applyOutput(&res, "12.5"+partsDelimiter+"45###7###16", "", 0)

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "expected 5 parts, got 2")
}

func TestApplyOutputSentinelsBecomeFieldErrors(t *testing.T) {
	out := strings.Join([]string{
		sentinelCPUUsage,
		"45.50###7.28###16.00",
		sentinelDisk,
		"8",
		"Intel Xeon",
	}, partsDelimiter)
	res := models.ProbeResult{Name: "web-01"}
	applyOutput(&res, out, "", 0)

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Err, "CPU usage data retrieval failed")
	assert.Contains(t, res.Err, "disk data retrieval failed")
	assert.Contains(t, res.Err, " | ")
	// Healthy fields are still populated alongside the errors.
	assert.Equal(t, 45.5, res.RAMPercent)
	assert.Equal(t, 8, res.CPUCores)
}

func TestApplyOutputMalformedValues(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want string
	}{
		{
			name: "garbage cpu usage",
			out:  strings.Join([]string{"not-a-number", "45###7###16", "62###100###200", "8", "Xeon"}, partsDelimiter),
			want: "invalid CPU usage value",
		},
		{
			name: "short ram triple",
			out:  strings.Join([]string{"12.5", "45###7", "62###100###200", "8", "Xeon"}, partsDelimiter),
			want: "unexpected RAM format",
		},
		{
			name: "non numeric cores",
			out:  strings.Join([]string{"12.5", "45###7###16", "62###100###200", "eight", "Xeon"}, partsDelimiter),
			want: "invalid CPU cores value",
		},
		{
			name: "model reported as n/a",
			out:  strings.Join([]string{"12.5", "45###7###16", "62###100###200", "8", "N/A"}, partsDelimiter),
			want: "CPU model data retrieval failed or N/A",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := models.ProbeResult{Name: "web-01"}
			applyOutput(&res, tc.out, "", 0)
			assert.Equal(t, models.StatusError, res.Status)
			assert.Contains(t, res.Err, tc.want)
		})
	}
}

func TestSanitizeCoercesBadValues(t *testing.T) {
	res := models.ProbeResult{
		Name:       "web-01",
		Status:     models.StatusError,
		CPUPercent: math.NaN(),
		RAMPercent: math.Inf(1),
		CPUCores:   -4,
		CPUModel:   "  ",
	}
	sanitize(&res)

	assert.Equal(t, 0.0, res.CPUPercent)
	assert.Equal(t, 0.0, res.RAMPercent)
	assert.Equal(t, 0, res.CPUCores)
	assert.Equal(t, "N/A", res.CPUModel)
	assert.Equal(t, "unknown error during data retrieval", res.Err)
}

func TestKBToGBRoundsToTwoDecimals(t *testing.T) {
	assert.Equal(t, 1.0, kbToGB(1024*1024))
	assert.Equal(t, 0.5, kbToGB(512*1024))
	assert.Equal(t, 7.28, kbToGB(7633633.28))
	assert.Equal(t, 0.0, kbToGB(0))
}

func TestStatCommandShape(t *testing.T) {
	cmd := statCommand("/var/lib")

	assert.Contains(t, cmd, "vmstat 1 2")
	assert.Contains(t, cmd, "/proc/meminfo")
	assert.Contains(t, cmd, "df -P -B1K '/var/lib'")
	assert.Contains(t, cmd, "nproc")
	assert.Contains(t, cmd, "model name")
	// One delimiter between each pair of the five parts.
	assert.Equal(t, 4, strings.Count(cmd, partsDelimiter))
	for _, s := range []string{sentinelCPUUsage, sentinelRAM, sentinelDisk, sentinelCPUCores, sentinelCPUModel} {
		assert.Contains(t, cmd, s)
	}
}

func TestTunneledHandshakeBoundedByTimeout(t *testing.T) {
	// A peer that accepts the connection but never speaks SSH: a pipe with
	// no reader blocks the handshake's version exchange indefinitely.
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	cfg := &ssh.ClientConfig{
		User:            "monitor",
		Auth:            []ssh.AuthMethod{ssh.Password("x")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	start := time.Now()
	_, _, _, err := newClientConnWithTimeout(clientSide, "web-01.example.com:22", cfg, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 5*time.Second, "handshake must not block past the timeout")
	assert.True(t, isTimeout(err), "a hung handshake classifies as a timeout")
	assert.Contains(t, classifyDialError("web-01", err), "SSH connection to web-01 timed out")
}

func TestClassifyDialErrorTimeout(t *testing.T) {
	err := &timeoutErr{}
	msg := classifyDialError("web-01", err)
	assert.Contains(t, msg, "SSH connection to web-01 timed out")
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }
