package sentinel

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// stopGrace is how long a terminated child gets to shut down before
	// it is killed outright.
	stopGrace = 8 * time.Second

	// restartDelayMin and restartDelayMax bound the restart delay after an
	// abnormal child exit. The delay doubles per consecutive failure.
	restartDelayMin = 3 * time.Second
	restartDelayMax = 5 * time.Minute

	// steadyRunTime is how long a child must stay up for its next failure
	// to be treated as fresh rather than part of a crash loop.
	steadyRunTime = 45 * time.Second

	// debounceWindow lets the event burst from an atomic deploy settle
	// before the binary is re-checksummed.
	debounceWindow = 200 * time.Millisecond
)

// Supervisor keeps the server process alive. It respawns the child when it
// crashes, backing off on crash loops, and restarts it when the binary on
// disk is replaced, so a deploy is just copying the new binary into place.
type Supervisor struct {
	binPath string
	sum     [sha256.Size]byte
	delay   time.Duration
	done    chan struct{}
	log     *slog.Logger
}

// Run resolves the current executable, spawns it with the "run" subcommand,
// and blocks supervising it until SIGINT or SIGTERM arrives.
func Run() {
	logger := slog.With("component", "supervisor")

	binPath, err := os.Executable()
	if err != nil {
		logger.Error("cannot resolve own executable", "error", err)
		os.Exit(1)
	}
	// Watch the real file, not a symlink.
	binPath, err = filepath.EvalSymlinks(binPath)
	if err != nil {
		logger.Error("cannot resolve executable symlinks", "error", err)
		os.Exit(1)
	}

	s := &Supervisor{
		binPath: binPath,
		delay:   restartDelayMin,
		done:    make(chan struct{}),
		log:     logger,
	}

	s.sum, err = checksum(binPath)
	if err != nil {
		logger.Error("cannot checksum executable", "path", binPath, "error", err)
		os.Exit(1)
	}
	logger.Info("supervising", "binary", binPath, "checksum", fmt.Sprintf("%x", s.sum[:6]))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	deploys := make(chan struct{}, 1)
	go s.watch(deploys)

	s.loop(signals, deploys)
}

func (s *Supervisor) loop(signals <-chan os.Signal, deploys <-chan struct{}) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		child, err := s.spawn()
		if err != nil {
			s.log.Error("spawn failed", "error", err)
			s.pause()
			continue
		}
		started := time.Now()

		exited := make(chan error, 1)
		go func() {
			exited <- child.Wait()
		}()

		select {
		case err := <-exited:
			uptime := time.Since(started)
			if uptime >= steadyRunTime {
				s.delay = restartDelayMin
			}
			if err != nil {
				s.log.Warn("child crashed", "uptime", uptime, "error", err)
				s.pause()
				continue
			}
			// The server normally runs until signalled, so a clean exit
			// still means respawn, just without backoff.
			s.log.Warn("child exited cleanly, respawning", "uptime", uptime)
			s.delay = restartDelayMin
			time.Sleep(time.Second)

		case <-deploys:
			s.log.Info("new binary deployed, cycling child")
			s.terminate(child)
			<-exited
			if sum, err := checksum(s.binPath); err == nil {
				s.sum = sum
				s.log.Info("tracking new binary", "checksum", fmt.Sprintf("%x", sum[:6]))
			}
			s.delay = restartDelayMin

		case sig := <-signals:
			s.log.Info("shutting down", "signal", sig.String())
			s.terminate(child)
			<-exited
			return
		}
	}
}

func (s *Supervisor) spawn() (*exec.Cmd, error) {
	cmd := exec.Command(s.binPath, "run")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The child reads its own TASKFORGE_* configuration.
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s run: %w", s.binPath, err)
	}
	s.log.Info("child started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// terminate asks the child to stop and escalates to SIGKILL after the grace
// window. The caller drains the child's exit status.
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		s.log.Debug("SIGTERM not delivered", "pid", pid, "error", err)
		return
	}
	go func() {
		time.Sleep(stopGrace)
		if cmd.Process.Signal(syscall.Signal(0)) == nil {
			s.log.Warn("child ignored SIGTERM, killing", "pid", pid)
			if err := cmd.Process.Kill(); err != nil {
				s.log.Error("kill failed", "pid", pid, "error", err)
			}
		}
	}()
}

// watch observes the directory holding the binary. Deploys replace the file
// atomically (write aside, rename over), which changes the inode, so the
// directory is the only reliable thing to watch. A deploy is signalled on
// the channel only when the file content actually changed.
func (s *Supervisor) watch(deploys chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("fsnotify unavailable, deploy restarts disabled", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(s.binPath)
	name := filepath.Base(s.binPath)
	if err := watcher.Add(dir); err != nil {
		s.log.Error("cannot watch binary directory", "dir", dir, "error", err)
		return
	}

	var settle *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(debounceWindow, func() {
				sum, err := checksum(s.binPath)
				if err != nil {
					s.log.Warn("checksum after deploy event failed", "error", err)
					return
				}
				if sum == s.sum {
					return
				}
				select {
				case deploys <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watch error", "error", err)

		case <-s.done:
			return
		}
	}
}

// pause sleeps the current restart delay, then doubles it up to the cap.
func (s *Supervisor) pause() {
	s.log.Info("delaying restart", "delay", s.delay)
	select {
	case <-time.After(s.delay):
	case <-s.done:
	}
	s.delay *= 2
	if s.delay > restartDelayMax {
		s.delay = restartDelayMax
	}
}

// checksum is the SHA256 of the file contents.
func checksum(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("checksum %s: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
