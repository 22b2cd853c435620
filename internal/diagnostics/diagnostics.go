// Package diagnostics shells out to OS network tools (ping, traceroute)
// and resolves names, with hard timeouts. Tool failures are reported in the
// result payload, never as transport errors.
package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	stdoutLimit   = 8000
	stderrLimit   = 2000
	traceTailSize = 80
)

var (
	hostRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,252}$`)
	ipRe   = regexp.MustCompile(`^[0-9a-fA-F:.]{2,64}$`)
)

// execCommand is swapped in tests.
var execCommand = exec.CommandContext

// ValidHost reports whether the value is safe to hand to an OS tool.
func ValidHost(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" || len(v) > 255 {
		return false
	}
	return hostRe.MatchString(v) || ipRe.MatchString(v)
}

// PingResult is the ping response payload.
type PingResult struct {
	OK         bool   `json:"ok"`
	Target     string `json:"target"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	Returncode int    `json:"returncode"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Ping sends a single echo request through the OS ping tool.
func Ping(ctx context.Context, host string, timeout time.Duration) PingResult {
	target := strings.TrimSpace(host)
	if !ValidHost(target) {
		return PingResult{Target: target, Error: "invalid host"}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), target}
	} else {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		args = []string{"-c", "1", "-W", strconv.Itoa(secs), target}
	}

	res := runTool(ctx, timeout+time.Second, "ping", args...)
	return PingResult{
		OK:         res.ok,
		Target:     target,
		ElapsedMs:  res.elapsedMs,
		Returncode: res.returncode,
		Stdout:     res.stdout,
		Stderr:     res.stderr,
		Error:      res.errText,
	}
}

// DNSResult is the name lookup payload.
type DNSResult struct {
	OK        bool     `json:"ok"`
	Target    string   `json:"target"`
	Addresses []string `json:"addresses,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Lookup resolves a hostname with the system resolver.
func Lookup(ctx context.Context, host string, timeout time.Duration) DNSResult {
	target := strings.TrimSpace(host)
	if !ValidHost(target) {
		return DNSResult{Target: target, Error: "invalid hostname"}
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, target)
	if err != nil {
		return DNSResult{Target: target, Error: err.Error()}
	}

	var uniq []string
	seen := make(map[string]bool)
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			uniq = append(uniq, a)
		}
	}
	return DNSResult{OK: true, Target: target, Addresses: uniq}
}

// TraceResult is the traceroute payload. Lines holds the tail of the tool
// output, the header noise dropped.
type TraceResult struct {
	OK         bool     `json:"ok"`
	Target     string   `json:"target"`
	ElapsedMs  int64    `json:"elapsed_ms"`
	Returncode int      `json:"returncode"`
	Lines      []string `json:"lines,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Traceroute runs the OS route tracing tool with a bounded hop count.
func Traceroute(ctx context.Context, host string, maxHops int, timeout time.Duration) TraceResult {
	target := strings.TrimSpace(host)
	if !ValidHost(target) {
		return TraceResult{Target: target, Error: "invalid host"}
	}
	if maxHops < 3 {
		maxHops = 3
	}
	if maxHops > 30 {
		maxHops = 30
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var name string
	var args []string
	if runtime.GOOS == "windows" {
		name = "tracert"
		args = []string{"-d", "-h", strconv.Itoa(maxHops), target}
	} else {
		name = "traceroute"
		args = []string{"-n", "-m", strconv.Itoa(maxHops), target}
	}

	res := runTool(ctx, timeout, name, args...)
	out := TraceResult{
		OK:         res.ok,
		Target:     target,
		ElapsedMs:  res.elapsedMs,
		Returncode: res.returncode,
		Stderr:     res.stderr,
		Error:      res.errText,
	}
	if res.stdout != "" {
		lines := strings.Split(res.stdout, "\n")
		if len(lines) > traceTailSize {
			lines = lines[len(lines)-traceTailSize:]
		}
		out.Lines = lines
	}
	return out
}

type toolResult struct {
	ok         bool
	returncode int
	elapsedMs  int64
	stdout     string
	stderr     string
	errText    string
}

func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) toolResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	res := toolResult{
		elapsedMs: time.Since(started).Milliseconds(),
		stdout:    trim(stdout.String(), stdoutLimit),
		stderr:    trim(stderr.String(), stderrLimit),
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.errText = "timeout"
	case err == nil:
		res.ok = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.returncode = exitErr.ExitCode()
		} else {
			res.errText = err.Error()
		}
	}
	return res
}

func trim(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s\n...(truncated)", s[:limit])
}
