package procmon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound means no process is listening on the port.
	ErrNotFound = errors.New("no listening process found")
	// ErrUnsupported means PID lookup is not implemented for this platform.
	ErrUnsupported = errors.New("pid lookup unsupported on this platform")
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Resolver finds the process listening on a local TCP port using the
// platform's socket tools: lsof (falling back to ss on Linux) or netstat on
// Windows.
type Resolver struct {
	GOOS     string
	Run      CommandRunner
	LookPath func(string) (string, error)
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewResolver returns a resolver for the current platform.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		GOOS:     runtime.GOOS,
		Run:      execRunner,
		LookPath: exec.LookPath,
		Timeout:  5 * time.Second,
		Logger:   logger,
	}
}

// Resolve returns the PID listening on port. It returns ErrNotFound when
// nothing listens there (or the lookup tool is unavailable) and
// ErrUnsupported on platforms without a lookup.
func (r *Resolver) Resolve(ctx context.Context, port int) (int32, error) {
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %d", ErrNotFound, port)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	switch r.GOOS {
	case "windows":
		return r.resolveNetstat(ctx, port)
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return r.resolveUnix(ctx, port)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, r.GOOS)
	}
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resolver) has(tool string) bool {
	if r.LookPath == nil {
		return true
	}
	_, err := r.LookPath(tool)
	return err == nil
}

func (r *Resolver) resolveUnix(ctx context.Context, port int) (int32, error) {
	if r.has("lsof") {
		out, err := r.Run(ctx, "lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t")
		if err != nil && len(out) == 0 {
			// lsof exits 1 when nothing matches.
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				return 0, ErrNotFound
			}
			if strings.Contains(strings.ToLower(err.Error()), "permission denied") {
				r.logger().Warn("lsof permission denied; try running with elevated privileges or pass --server-pid")
			}
			return 0, fmt.Errorf("%w: lsof: %v", ErrNotFound, err)
		}
		return r.pickPID(port, parseLsof(out))
	}

	if r.GOOS == "linux" && r.has("ss") {
		out, err := r.Run(ctx, "ss", "-H", "-ltnp", fmt.Sprintf("sport = :%d", port))
		if err != nil {
			return 0, fmt.Errorf("%w: ss: %v", ErrNotFound, err)
		}
		return r.pickPID(port, parseSS(out))
	}

	r.logger().Warn("neither lsof nor ss is available; pass --server-pid to enable resource sampling")
	return 0, fmt.Errorf("%w: lsof not installed", ErrNotFound)
}

func (r *Resolver) resolveNetstat(ctx context.Context, port int) (int32, error) {
	out, err := r.Run(ctx, "netstat", "-ano")
	if err != nil {
		return 0, fmt.Errorf("%w: netstat: %v", ErrNotFound, err)
	}
	return r.pickPID(port, parseNetstat(out, port))
}

func (r *Resolver) pickPID(port int, pids []int32) (int32, error) {
	if len(pids) == 0 {
		return 0, ErrNotFound
	}
	if len(pids) > 1 {
		r.logger().Warn("multiple processes listen on port; using the first",
			zap.Int("port", port), zap.Any("pids", pids))
	}
	return pids[0], nil
}

// parseLsof reads `lsof -t` output: one PID per line.
func parseLsof(out []byte) []int32 {
	var pids []int32
	seen := map[int32]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		pid, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 32)
		if err != nil || pid <= 0 || seen[int32(pid)] {
			continue
		}
		seen[int32(pid)] = true
		pids = append(pids, int32(pid))
	}
	return pids
}

var ssPIDPattern = regexp.MustCompile(`pid=(\d+)`)

// parseSS reads `ss -ltnp` output, collecting pid=N from the users column.
func parseSS(out []byte) []int32 {
	var pids []int32
	seen := map[int32]bool{}
	for _, m := range ssPIDPattern.FindAllSubmatch(out, -1) {
		pid, err := strconv.ParseInt(string(m[1]), 10, 32)
		if err != nil || seen[int32(pid)] {
			continue
		}
		seen[int32(pid)] = true
		pids = append(pids, int32(pid))
	}
	return pids
}

// parseNetstat reads `netstat -ano` output for LISTENING TCP sockets on port.
func parseNetstat(out []byte, port int) []int32 {
	pattern := regexp.MustCompile(fmt.Sprintf(`TCP\s+\S+:%d\s+\S+\s+LISTENING\s+(\d+)`, port))
	var pids []int32
	seen := map[int32]bool{}
	for _, m := range pattern.FindAllSubmatch(out, -1) {
		pid, err := strconv.ParseInt(string(m[1]), 10, 32)
		if err != nil || seen[int32(pid)] {
			continue
		}
		seen[int32(pid)] = true
		pids = append(pids, int32(pid))
	}
	return pids
}
