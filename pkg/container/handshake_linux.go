package container

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// The creation handshake runs over a datagram socketpair: the parent
// keeps one end, the child inherits the other as fd 3. The parent sends
// "go" once the child has been placed in its cgroup; the child answers
// with a ready datagram carrying the control stream fd via SCM_RIGHTS.

// handshakeFd is where the child finds its end of the pair (after
// stdin/stdout/stderr).
const handshakeFd = 3

type readyMsg struct {
	Ok  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

type handshake struct {
	parent    *os.File
	childFile *os.File
}

func newHandshake() (*handshake, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &handshake{
		parent:    os.NewFile(uintptr(fds[0]), "handshake-parent"),
		childFile: os.NewFile(uintptr(fds[1]), "handshake-child"),
	}, nil
}

// sendGo releases the child once cgroup placement is done.
func (h *handshake) sendGo() error {
	_, err := h.parent.Write([]byte("go"))
	return err
}

// recvReady blocks until the child reports readiness and returns the
// control connection received over the socket.
func (h *handshake) recvReady(timeout time.Duration) (net.Conn, error) {
	conn, err := net.FileConn(h.parent)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	uconn := conn.(*net.UnixConn)
	_ = uconn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := uconn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("waiting for container readiness: %w", err)
	}

	var msg readyMsg
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		return nil, fmt.Errorf("parsing readiness message: %w", err)
	}
	if !msg.Ok {
		return nil, fmt.Errorf("container init failed: %s", msg.Err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(cmsgs) == 0 {
		return nil, fmt.Errorf("readiness message carried no control fd")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return nil, fmt.Errorf("parsing control fd: %w", err)
	}

	ctrlFile := os.NewFile(uintptr(fds[0]), "container-control")
	defer ctrlFile.Close()
	return net.FileConn(ctrlFile)
}

func (h *handshake) close() {
	_ = h.parent.Close()
	_ = h.childFile.Close()
}

// childHandshake is the child side, used by the init process.
type childHandshake struct {
	conn *net.UnixConn
}

func openChildHandshake() (*childHandshake, error) {
	f := os.NewFile(uintptr(handshakeFd), "handshake")
	if f == nil {
		return nil, fmt.Errorf("handshake fd missing")
	}
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return &childHandshake{conn: conn.(*net.UnixConn)}, nil
}

// waitGo blocks until the parent releases the child.
func (c *childHandshake) waitGo() error {
	buf := make([]byte, 8)
	_, err := c.conn.Read(buf)
	return err
}

// sendReady reports success together with the control fd, or a fatal
// setup error.
func (c *childHandshake) sendReady(ctrlFd int, setupErr error) error {
	msg := readyMsg{Ok: setupErr == nil}
	if setupErr != nil {
		msg.Err = setupErr.Error()
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		return err
	}

	var oob []byte
	if setupErr == nil {
		oob = unix.UnixRights(ctrlFd)
	}
	_, _, err = c.conn.WriteMsgUnix(payload, oob, nil)
	return err
}

func (c *childHandshake) close() {
	_ = c.conn.Close()
}
