// Package netlinkuevent opens the kernel's kobject-uevent netlink socket
// and parses the NUL-separated KEY=VALUE messages it delivers, ported
// from uevent_open and the receive/parse half of handle_uevents/
// handle_uevent in afrd.c.
package netlinkuevent

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Socket is a bound, non-blocking kobject-uevent netlink socket.
type Socket struct {
	fd int
}

// Open creates and binds the socket, forcing its receive buffer to
// bufSize bytes and requesting SCM_CREDENTIALS ancillary data on every
// message, matching uevent_open.
func Open(bufSize int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, errors.Wrap(err, "netlinkuevent: socket")
	}

	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, bufSize)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "netlinkuevent: SO_PASSCRED")
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    uint32(os.Getpid()),
		Groups: 0xffffffff,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "netlinkuevent: bind")
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "netlinkuevent: set nonblocking")
	}

	return &Socket{fd: fd}, nil
}

// Fd returns the underlying file descriptor, for registering in the
// engine's single poll(2) call.
func (s *Socket) Fd() int {
	return s.fd
}

// Close closes the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Recv reads one pending uevent message. It returns ok=false with a nil
// error once EAGAIN is reached (no more messages queued, matching
// handle_uevents' "if (errno == EAGAIN) return;"), and also on any other
// recv error or on a message not sent by the kernel; it does not retry.
// The returned error is always nil.
func (s *Socket) Recv() (msg []byte, ok bool, err error) {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4+4+4)) // sizeof(struct ucred): pid, uid, gid

	n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		// EAGAIN means no more messages queued; any other error is
		// reported the same way, without logging.
		return nil, false, nil
	}

	nl, ok := from.(*unix.SockaddrNetlink)
	if !ok || nl.Pid != 0 {
		return nil, false, nil
	}

	cred, err := credentialsFrom(oob[:oobn])
	if err != nil || cred == nil || cred.Pid != 0 {
		return nil, false, nil
	}

	return buf[:n], true, nil
}

// credentialsFrom extracts the SCM_CREDENTIALS ancillary message from a
// control-message buffer, matching handle_uevents' CMSG_FOREACH search
// for cmsg_level==SOL_SOCKET && cmsg_type==SCM_CREDENTIALS.
func credentialsFrom(oob []byte) (*unix.Ucred, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SCM_CREDENTIALS {
			return unix.ParseUnixCredentials(&m)
		}
	}
	return nil, nil
}

// ParseFields splits a raw uevent message into its "KEY=VALUE" fields,
// skipping the first NUL-terminated line (the subsystem path line,
// which never has an '=' afrd cares about), matching handle_uevent's
// field-walking loop. Order is preserved since filter matching depends
// on seeing every field, not just a final map.
func ParseFields(msg []byte) []Field {
	var fields []Field
	parts := strings.Split(string(msg), "\x00")
	for i, part := range parts {
		if i == 0 || part == "" {
			continue
		}
		key, val, found := strings.Cut(part, "=")
		if !found {
			key, val = part, ""
		}
		fields = append(fields, Field{Key: key, Value: val})
	}
	return fields
}

// Field is one KEY=VALUE pair from a uevent message.
type Field struct {
	Key   string
	Value string
}
