package monitor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vpnwatch/backend/internal/ws"
)

// GatewayProbe reports whether a process with the given name is running.
type GatewayProbe func(ctx context.Context, name string) (bool, error)

// ProcessRunning scans the process table for a process whose executable
// name (or first argument) equals name.
func ProcessRunning(ctx context.Context, name string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if matchesProcess(ctx, p, name) {
			return true, nil
		}
	}
	return false, nil
}

func matchesProcess(ctx context.Context, p *process.Process, name string) bool {
	if n, err := p.NameWithContext(ctx); err == nil && n == name {
		return true
	}
	// Fall back to argv[0] for daemons launched through a wrapper.
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil || len(args) == 0 {
		return false
	}
	return filepath.Base(strings.TrimSpace(args[0])) == name
}

// HostInfo describes the local machine for /api/health.
func HostInfo(ctx context.Context) (ws.HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return ws.HostInfo{}, err
	}
	return ws.HostInfo{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		UptimeSec:     info.Uptime,
	}, nil
}
