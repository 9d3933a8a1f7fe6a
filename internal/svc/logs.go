package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// LogCommand returns the command that shows service logs on goos.
func LogCommand(opts LogOptions, goos string) (string, []string, error) {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch goos {
	case "linux":
		args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
		if opts.Follow {
			args = append(args, "-f")
		}
		return "journalctl", args, nil
	case "darwin":
		// launchd writes service output to /var/log/<name>.{out,err}.log
		files := []string{
			fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName),
			fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName),
		}
		args := []string{"-n", strconv.Itoa(opts.Lines)}
		if opts.Follow {
			args = append(args, "-f")
		}
		return "tail", append(args, files...), nil
	case "windows":
		script := fmt.Sprintf(
			"Get-WinEvent -FilterHashtable @{LogName='Application'; ProviderName='%s'} -MaxEvents %d -ErrorAction SilentlyContinue | Format-Table TimeCreated, LevelDisplayName, Message -AutoSize -Wrap",
			opts.ServiceName, opts.Lines)
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	default:
		return "", nil, fmt.Errorf("log viewing not supported on %s", goos)
	}
}

// ViewLogs runs the platform log viewer attached to the terminal.
func ViewLogs(opts LogOptions) error {
	name, args, err := LogCommand(opts, runtime.GOOS)
	if err != nil {
		return err
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
