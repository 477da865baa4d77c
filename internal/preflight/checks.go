package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// synthCheckTimeout bounds the provider reachability probe.
const synthCheckTimeout = 10 * time.Second

// CheckSynth verifies that the synthesis provider answers at all.
// It uses a single attempt and no retries.
func CheckSynth(ctx context.Context, synth Pinger) Result {
	const name = "Synthesis provider"

	checkCtx, cancel := context.WithTimeout(ctx, synthCheckTimeout)
	defer cancel()

	if err := synth.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeSynthError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckBucket validates the S3 settings that cannot be defaulted.
func CheckBucket(bucket, region string) Result {
	const name = "S3 bucket"
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return Result{Name: name, Detail: "missing bucket"}
	}
	if strings.TrimSpace(region) == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing region)", bucket)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", bucket, region)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minMiB mebibytes available to unprivileged users. minMiB <= 0 disables
// the threshold but still reports the free space.
func CheckFreeSpace(name, path string, minMiB int) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if minMiB > 0 && free < uint64(minMiB)*humanize.MiByte {
		return Result{Name: name, Detail: fmt.Sprintf("%s (below %s minimum)", detail, humanize.IBytes(uint64(minMiB)*humanize.MiByte))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// summarizeSynthError produces a human-readable summary for provider probe failures.
func summarizeSynthError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (provider unreachable)"
	}
	return err.Error()
}
