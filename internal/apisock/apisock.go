// Package apisock implements afrd's UDP control plane, a line-oriented
// command protocol listening on 127.0.0.1:50505, ported from apisock.c.
// It never runs its own goroutine: Fd exposes the listening socket's
// descriptor so the caller can fold it into a single poll(2) call, and
// Poll handles exactly one pending datagram per invocation, matching
// apisock_handle's per-ready-fd dispatch.
package apisock

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ausocean/afrd/internal/status"
)

// Port is AFRD_API_PORT, the fixed loopback UDP port afrd listens on.
const Port = 50505

const helpText = "help\n\tdisplay this help text\n" +
	"frame_rate_hint <fr>\n\ttell afrd the video starting in <1.0 seconds will use <fr>/1000 frames per second (e.g. 23976 = 23.976 fps)\n" +
	"refresh_rate <rr>\n\ttell afrd to set display refresh rate as close to <rr>/1000 Hz as possible, no arg to restore original rate\n" +
	"color_space <cs>\n\toverride colorspace, empty arg to restore default behavior\n" +
	"status\n\tget current afrd status\n" +
	"reconf\n\ttell afrd to reload configuration file as soon as possible\n"

// Callbacks is the narrow surface the control plane needs from the
// scheduler, mirroring the way config consumes logging.Logger rather
// than a concrete type.
type Callbacks interface {
	// FrameRateHint reports a predicted movie frame rate, in 24.8
	// fixed-point Hz, matching afrd_frame_rate_hint.
	FrameRateHint(hz int)
	// SetRefreshRate requests a specific display refresh rate, in 24.8
	// fixed-point Hz, matching afrd_refresh_rate with a nonzero argument.
	SetRefreshRate(hz int)
	// Restore cancels any API-forced refresh rate override, matching
	// afrd_refresh_rate(0)'s "no arg" behavior.
	Restore()
	// ColorSpace overrides (or, given "", clears) the active colorspace
	// selection override, matching afrd_override_colorspace.
	ColorSpace(spec string)
	// Status returns the current status snapshot for the "status" command.
	Status() status.Record
	// Reconf requests the configuration file be reloaded as soon as
	// possible, matching afrd_reconf.
	Reconf()
}

// Server is the UDP control-plane listener.
type Server struct {
	conn *net.UDPConn
	cb   Callbacks
}

// New opens the control socket bound to 127.0.0.1:Port, matching
// apisock_init.
func New(cb Callbacks) (*Server, error) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "apisock: listen on 127.0.0.1:%d", Port)
	}
	return &Server{conn: conn, cb: cb}, nil
}

// Close closes the control socket, matching apisock_fini.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Fd returns the underlying socket descriptor, for registering alongside
// the uevent and timer descriptors in the scheduler's single poll(2)
// call, matching apisock_prep_poll.
func (s *Server) Fd() (int, error) {
	sc, err := s.conn.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "apisock: SyscallConn")
	}
	var fd int
	ctrlErr := sc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, errors.Wrap(ctrlErr, "apisock: control")
	}
	return fd, nil
}

// Poll reads and dispatches every command in one pending datagram,
// matching apisock_handle's POLLIN branch. Call it only once the fd
// from Fd is reported readable.
func (s *Server) Poll() error {
	buf := make([]byte, 1024)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return errors.Wrap(err, "apisock: recvfrom")
	}
	if n <= 0 {
		return nil
	}
	s.handle(string(buf[:n]), addr)
	return nil
}

// handle splits a datagram into newline-separated commands and
// dispatches each in turn, matching apisock_cmd's line-walking loop.
func (s *Server) handle(data string, addr *net.UDPAddr) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.dispatch(line, addr)
	}
}

func (s *Server) dispatch(line string, addr *net.UDPAddr) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		s.reply(addr, helpText)

	case "frame_rate_hint":
		if fr, ok := soleInt(args); ok {
			s.cb.FrameRateHint((fr * 256) / 1000)
		}

	case "refresh_rate":
		if len(args) == 0 {
			s.cb.Restore()
		} else if fr, ok := soleInt(args); ok {
			s.cb.SetRefreshRate((fr * 256) / 1000)
		}

	case "color_space":
		s.cb.ColorSpace(strings.Join(args, " "))

	case "status":
		s.reply(addr, s.statusText())

	case "reconf":
		s.cb.Reconf()

	default:
		// unknown command, silently ignored, matching apisock_cmd's
		// trace-only "unknown command" branch.
	}
}

// soleInt reports whether args is exactly one valid decimal integer,
// matching the original's "parse_int then require *cmd == 0" pattern:
// any leftover or missing token is a silently ignored bad-args case.
func soleInt(args []string) (int, bool) {
	if len(args) != 1 {
		return 0, false
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	return v, true
}

// statusText formats the "status" command's reply, matching apisock_cmd's
// snprintf block. The "stamp" field reuses the status record's CRC32 as
// the original does, a cheap way to let a poller detect that afrd wrote
// a new record since the last poll.
func (s *Server) statusText() string {
	rec := s.cb.Status()
	return fmt.Sprintf(
		"stamp:%d\n"+
			"enabled:%d\n"+
			"active:%d\n"+
			"blackened:%d\n"+
			"version:%d.%d.%d\n"+
			"build:%s\n"+
			"current hz:%d\n"+
			"original hz:%d\n",
		rec.CRC32,
		boolInt(rec.Enabled),
		boolInt(rec.Switched),
		boolInt(rec.Blackened),
		rec.VerMajor, rec.VerMinor, rec.VerMicro,
		cstring(rec.BDate[:]),
		rec.CurrentHz*1000/256,
		rec.OriginalHz*1000/256,
	)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// cstring trims a NUL-padded fixed-size byte array down to its
// NUL-terminated prefix, matching how BDate/VerSfx are stored.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (s *Server) reply(addr *net.UDPAddr, text string) {
	_, _ = s.conn.WriteToUDP([]byte(text), addr)
}
