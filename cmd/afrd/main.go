// Command afrd watches the kernel's video-decoder and HDMI uevents,
// derives the frame rate of whatever's playing, and switches the
// display's refresh rate to match it. It is a thin CLI shell around
// internal/engine, ported from main.c: flag parsing, daemonization,
// the outer init/run/fini cycle that reloads on a changed config file,
// and signal handling are all that live here.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ausocean/afrd/internal/config"
	"github.com/ausocean/afrd/internal/engine"
	"github.com/ausocean/afrd/internal/logging"
	"github.com/ausocean/afrd/internal/readynotify"
	"github.com/ausocean/afrd/internal/status"
)

const (
	defaultPidfile = "/var/run/afrd.pid"

	// daemonChildEnv marks a re-exec'd child so it doesn't try to
	// daemonize itself a second time.
	daemonChildEnv = "AFRD_DAEMON_CHILD"
)

// verboseFlag counts repeated -v occurrences, matching getopt's g_verbose++
// on every "-v".
type verboseFlag int

func (v *verboseFlag) String() string { return strconv.Itoa(int(*v)) }
func (v *verboseFlag) Set(string) error {
	*v++
	return nil
}
func (v *verboseFlag) IsBoolFlag() bool { return true }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	prog := filepath.Base(os.Args[0])

	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	daemonize := fs.Bool("D", false, "daemonize the program")
	pidfile := fs.String("p", defaultPidfile, "write PID to file when running as daemon")
	kill := fs.Bool("k", false, "kill the running daemon (can be used with -D)")
	logFile := fs.String("l", "", "write the log to FILE (imposes debug verbosity)")
	stats := fs.Bool("s", false, "display running daemon stats")
	version := fs.Bool("V", false, "display program version")
	var verbose verboseFlag
	fs.Var(&verbose, "v", "verbose info about what's cooking (repeatable)")
	fs.Usage = func() { showHelp(fs, prog) }

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *version {
		showVersion()
		return 0
	}
	if *stats {
		displayStats(*pidfile)
		return 0
	}

	if *kill {
		ret := killDaemon(prog, *pidfile)
		if !*daemonize {
			return ret
		}
	}

	if *daemonize && os.Getenv(daemonChildEnv) == "" {
		return daemonizeSelf(prog, *pidfile, dropBoolFlags(args, "-D", "-k"))
	}

	level := int8(logging.LevelError)
	if int(verbose) > int(logging.LevelDebug) {
		level = int8(logging.LevelDebug)
	} else if verbose > 0 {
		level = int8(verbose)
	}
	if *logFile != "" {
		level = int8(logging.LevelDebug)
	}
	log := logging.New(logging.Config{File: *logFile, Level: level})

	cfg, configPath := loadConfig(fs.Args())

	if *daemonize {
		defer os.Remove(*pidfile)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGHUP)

	var current atomic.Pointer[engine.Engine]
	crashCh := make(chan os.Signal, 1)
	signal.Notify(crashCh, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV)
	go watchCrashes(crashCh, &current, *daemonize, *pidfile)

	readySent := false
	var exitErr error
	for {
		e, err := engine.New(cfg, log, configPath, *pidfile)
		if err != nil {
			log.Error("initializing engine", "error", err)
			exitErr = err
			break
		}
		current.Store(e)

		if !readySent {
			if err := readynotify.Ready(); err != nil {
				log.Debug("readynotify", "error", err)
			}
			readySent = true
		}

		reconfigure, runErr := e.Run(sigCh)
		current.Store(nil)
		e.Close()

		if runErr != nil {
			log.Error("engine run failed", "error", runErr)
			exitErr = runErr
			break
		}
		if !reconfigure {
			break
		}

		log.Info("reloading config", "path", configPath)
		c, err := config.Load(configPath)
		if err != nil {
			log.Error("reloading config file, keeping previous settings", "error", err)
			continue
		}
		cfg = c
	}

	if err := readynotify.Stopping(); err != nil {
		log.Debug("readynotify", "error", err)
	}

	if exitErr != nil {
		return 1
	}
	return 0
}

// loadConfig tries each positional argument as a config file path in
// order, keeping the first that loads, matching the "while (optind <
// argc) if (load_config(...) == 0) break" loop in main. If none of them
// load, or none were given at all, it falls back to built-in defaults,
// matching the original's behavior when g_cfg is never assigned (every
// cfg_get_str/cfg_get_int call tolerates a nil cfg and returns its
// default argument).
func loadConfig(paths []string) (*config.Config, string) {
	for _, p := range paths {
		c, err := config.Load(p)
		if err == nil {
			return c, p
		}
		fmt.Fprintf(os.Stderr, "afrd: failed to load config file %q: %v\n", p, err)
	}
	return config.Default(), ""
}

// watchCrashes re-raises SIGFPE/SIGILL/SIGSEGV with their default
// disposition after running best-effort cleanup, matching signal_emerg.
// Go's runtime does not normally deliver these as catchable os/signal
// notifications for faults inside the runtime itself, but any that do
// arrive (e.g. sent explicitly, or from cgo) get the same cleanup path.
func watchCrashes(ch <-chan os.Signal, current *atomic.Pointer[engine.Engine], daemonized bool, pidfile string) {
	for sig := range ch {
		if e := current.Load(); e != nil {
			e.EmergencyClose()
		}
		if daemonized {
			os.Remove(pidfile)
		}

		signal.Reset(sig)
		unixSig, ok := sig.(syscall.Signal)
		if ok {
			syscall.Kill(os.Getpid(), unixSig)
		}
	}
}

// dropBoolFlags returns args with every exact occurrence of the given
// no-value flag tokens removed, used to keep a re-exec'd daemon child
// from repeating -D (self-daemonize) or -k (kill-then-replace) actions
// its parent already performed.
func dropBoolFlags(args []string, names ...string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		skip := false
		for _, n := range names {
			if a == n {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, a)
		}
	}
	return out
}

// daemonizeSelf re-execs the current binary detached from the controlling
// terminal and writes the child's PID to pidfile, replacing the original
// fork()-based daemonize(): Go's runtime cannot safely fork a
// multi-threaded process, so the standard substitute is to start a
// detached copy of itself instead of splitting the current one in two.
func daemonizeSelf(prog, pidfile string, args []string) int {
	if pid := daemonPID(pidfile); pid > 0 {
		fmt.Fprintf(os.Stderr, "%s: daemon is already running with PID %d\n", prog, pid)
		return 1
	}

	if dir := filepath.Dir(pidfile); dir != "." {
		os.MkdirAll(dir, 0755)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: can't daemonize, aborting\n", prog)
		return 1
	}
	defer devnull.Close()

	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: can't daemonize, aborting\n", prog)
		return 1
	}

	f, err := os.OpenFile(pidfile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to write PID file %q\n", prog, pidfile)
		return 0
	}
	fmt.Fprintf(f, "%d", cmd.Process.Pid)
	f.Close()

	return 0
}

// daemonPID returns the PID recorded in pidfile if it names a live
// process, 0 if the file is absent, or -1 if it exists but is stale,
// matching daemon_pid's three-way result.
func daemonPID(pidfile string) int {
	data, err := os.ReadFile(pidfile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil || pid < 1 {
		return -1
	}
	if proc, err := os.FindProcess(pid); err == nil {
		if proc.Signal(syscall.Signal(0)) == nil {
			return pid
		}
	}
	return -1
}

// killDaemon sends SIGINT to the running daemon and waits briefly for it
// to exit, matching kill_daemon.
func killDaemon(prog, pidfile string) int {
	pid := daemonPID(pidfile)
	if pid == 0 {
		fmt.Fprintf(os.Stderr, "%s: failed to read PID from file %q\n", prog, pidfile)
		return 1
	}
	if pid < 0 {
		os.Remove(pidfile)
		fmt.Fprintf(os.Stderr, "%s: PID file exists, but daemon is dead\n", prog)
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.SIGINT) != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to kill daemon PID %d\n", prog, pid)
		return 1
	}

	for i := 0; i < 80; i++ {
		time.Sleep(25 * time.Millisecond)
		if proc.Signal(syscall.Signal(0)) != nil {
			break
		}
	}
	os.Remove(pidfile)
	return 0
}

// displayStats reads the daemon's shared status block and prints it,
// matching display_stats.
func displayStats(pidfile string) {
	r, err := status.OpenReader(pidfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "afrd: failed to read shared memory")
		return
	}
	defer r.Close()

	rec, ok := r.Read()
	if !ok {
		fmt.Fprintln(os.Stderr, "afrd: failed to read shared memory")
		return
	}

	fmt.Printf("afrd version: %d.%d.%d built %s\n",
		rec.VerMajor, rec.VerMinor, rec.VerMicro, trimNul(rec.BDate[:]))
	fmt.Printf("afrd is enabled: %s\n", yesNo(rec.Enabled))
	fmt.Printf("Display refresh rate is switched: %s\n", yesNo(rec.Switched))
	fmt.Printf("Display is blackened: %s\n", yesNo(rec.Blackened))
	fmt.Printf("Current display refresh rate: %s\n", hzString(rec.CurrentHz))
	fmt.Printf("Original display refresh rate: %s\n", hzString(rec.OriginalHz))
}

func hzString(hz int32) string {
	return fmt.Sprintf("%d.%02dHz", hz>>8, (100*(hz&255))>>8)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func showVersion() {
	fmt.Printf("afr daemon version %d.%d.%d-%s built %s\n",
		engine.VersionMajor, engine.VersionMinor, engine.VersionMicro, engine.VersionSuffix, engine.BuildDate)
}

func showHelp(fs *flag.FlagSet, prog string) {
	showVersion()
	fmt.Printf("usage: %s [options] [config-file]\n", prog)
	fs.PrintDefaults()
}
