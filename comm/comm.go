/*Package comm provides a reconnecting TCP client used to talk to status
sinks and other line-oriented network peers.

Usage boils down to:
	1.  embed RemoteDevice in a type that represents your remote peer.
	2.  if you do not use newlines as terminators, pass a pointer to
		a Terminators value to NewRemoteDevice.
	3.  Write any methods you see fit on top of Open/Send/Recv/SendRecv.

A minimal example is given below for a peer that responds to "RD?" with a
line of text, assuming the default termination values are OK:

	type Peer struct {
		comm.RemoteDevice
	}

	func NewPeer(addr string) Peer {
		return Peer{RemoteDevice: comm.NewRemoteDevice(addr, nil)}
	}

	func (p *Peer) Read() (string, error) {
		if err := p.Open(); err != nil {
			return "", err
		}
		defer p.CloseEventually()
		resp, err := p.SendRecv([]byte("RD?"))
		return string(resp), err
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// errCloseTooSoon is generated when one attempts to close a connection too soon after communicating
	errCloseTooSoon = errors.New("attempt to close a connection sooner than closeDelay after the last communication")
)

const (
	// DefaultTerminator is the default transmission termination byte
	DefaultTerminator = byte('\n')

	closeDelay = 5 * time.Second
)

// Sender has a Send method that passes along a byte slice with the transmission termination appended
type Sender interface {
	Send([]byte) error
}

// Recver has a Recv method that gets a byte slice and strips the termination byte
type Recver interface {
	Recv() ([]byte, error)
}

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Opener can open ("establish a connection" but in io language)
type Opener interface {
	Open() error
}

// A Communicator can Open, Send, Recv and Close.
//
// It makes no promises about concurrent behavior or stability
type Communicator interface {
	io.Closer
	Opener
	SendRecver
}

// Terminators holds Rx and Tx terminators where are each a single byte
type Terminators struct {
	Rx, Tx byte
}

/*RemoteDevice has an address and implements Communicator

All connects, disconnects, and write->read communication is done
with locks.  This makes the RemoteDevice concurrent-safe over TCP.
*/
type RemoteDevice struct {
	sync.Mutex

	// Addr is the address to connect to
	Addr string

	// Timeout holds the duration of time to wait for replies
	Timeout time.Duration

	// Conn holds the TCP connection
	Conn     io.ReadWriteCloser
	lastComm time.Time
	txTerm   byte
	rxTerm   byte
}

// NewRemoteDevice creates a new RemoteDevice instance.
//
// Addr is the remote address to connect to.
//
// terminators, if non-nil, overrides the default (Tx=Rx='\n') termination bytes.
func NewRemoteDevice(addr string, t *Terminators) RemoteDevice {
	var rx, tx byte
	if t == nil {
		rx = DefaultTerminator
		tx = DefaultTerminator
	} else {
		rx = t.Rx
		tx = t.Tx
	}
	return RemoteDevice{
		Addr:    addr,
		Timeout: 3 * time.Second,
		txTerm:  tx,
		rxTerm:  rx,
	}
}

/*Open the connection, setting the Conn variable

If conn is not nil, this function is a no-op and does not error.
*/
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	rd.Lock()
	defer rd.Unlock()
	// exponential backoff so a flaky status sink does not get connection-thrashed
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	// backoff will cease on a timeout so we don't wait
	// forever, so we need to check for err != nil && !wasTimeout
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	// err != nil
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	conn, err := TCPSetup(rd.Addr, rd.Timeout)
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
//
// A lock is acquired and released during this operation
func (rd *RemoteDevice) Close() error {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn != nil {
		err := rd.Conn.Close()
		if err == nil {
			rd.Conn = nil
			return nil
		}
		errS := strings.ToLower(err.Error())
		if strings.Contains(errS, "closed") { // errors containing the "closed" trigger phrase are benign
			err = nil
		}
		return err
	}
	return nil
}

func (rd *RemoteDevice) closeMaybe() error {
	now := time.Now()
	if now.Sub(rd.lastComm) < closeDelay {
		return errCloseTooSoon
	}
	return rd.Close()
}

/*CloseEventually will trigger an infinite number of attempts to close
the connection, spaced some time apart.  After the first successful close
or error on close, the function will return.

This function spawns a goroutine and is used to allow connection
persistence between communications.  Use Close if you wish to close immediately.
*/
func (rd *RemoteDevice) CloseEventually() {
	go rd.closeEventually()
}

func (rd *RemoteDevice) closeEventually() error {
	back := backoff.NewConstantBackOff(closeDelay)
	time.Sleep(closeDelay)
	return backoff.Retry(rd.closeMaybe, back)
}

// Send writes data to the remote
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if conn, ok := rd.Conn.(net.Conn); ok {
		// update the deadline; deadlines are wall times and connection
		// may have persisted from a previous communication
		deadline := time.Now().Add(rd.Timeout)
		conn.SetDeadline(deadline)
	}

	b = append(b, rd.txTerm)
	_, err := rd.Conn.Write(b)
	rd.lastComm = time.Now()
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.rxTerm
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(term)
	rd.lastComm = time.Now()
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		idx := bytes.IndexByte(buf, term)
		return buf[:idx], nil
	}
	return buf, ErrTerminatorNotFound

}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return []byte{}, ErrNotConnected
	}
	rd.Lock()
	defer rd.Unlock()
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// OpenSendRecvClose calls Open(), defer CloseEventually(), SendRecv()
// this reduces a usage from:
//
//  err := rd.Open()
//  // error handling
//  defer rd.CloseEventually()
//  return rd.SendRecv([]byte)
//
// to:
// rd.OpenSendRecvClose([]byte)
//
// This relies on Open being a no-op for an existing connection,
// and the mutex inside RemoteDevice making this concurrent safe
func (rd *RemoteDevice) OpenSendRecvClose(b []byte) ([]byte, error) {
	err := rd.Open()
	if err != nil {
		return []byte{}, err
	}
	defer rd.CloseEventually()
	return rd.SendRecv(b)
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)
	return conn, nil
}
