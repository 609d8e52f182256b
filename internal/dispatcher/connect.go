package dispatcher

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"time"
)

// established is the literal response line a client expects after a
// successful CONNECT handshake (spec §4.6 CONNECT tunnel, out of the cache
// path entirely — no decision, no lookup, no insert).
const established = "HTTP/1.1 200 Connection established\r\n\r\n"

// Tunnel dials the requested origin and splices it to the hijacked client
// connection. It never touches the cache: CONNECT traffic is opaque bytes
// once the tunnel opens.
func (d *Dispatcher) Tunnel(w http.ResponseWriter, req *http.Request, idleTimeout time.Duration) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return ErrClientProtocol
	}

	origin, err := net.DialTimeout("tcp", req.Host, d.ConnectTimeout)
	if err != nil {
		http.Error(w, "origin connect failed", http.StatusBadGateway)
		return classifyTransportError(err)
	}
	defer origin.Close()

	client, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := clientBuf.Writer.WriteString(established); err != nil {
		return err
	}
	if err := clientBuf.Writer.Flush(); err != nil {
		return err
	}

	relay(client, origin, clientBuf, idleTimeout)
	return nil
}

// relay splices both directions until either side closes or goes idle for
// longer than idleTimeout (spec §6 per-connection concurrency contract: a
// blocked tunnel must not starve the rest of the proxy).
func relay(client net.Conn, origin net.Conn, clientBuf *bufio.ReadWriter, idleTimeout time.Duration) {
	done := make(chan struct{}, 2)

	copyLoop := func(dst net.Conn, srcConn net.Conn, src io.Reader) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			if idleTimeout > 0 {
				srcConn.SetReadDeadline(time.Now().Add(idleTimeout))
			}
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}

	go copyLoop(origin, client, clientBuf.Reader)
	go copyLoop(client, origin, origin)

	<-done
	client.Close()
	origin.Close()
	<-done
}
