package crpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError wraps an error string returned by the remote side.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// Call represents an active RPC.
type Call struct {
	ServiceMethod string     // The name of the service and method to call.
	Args          any        // The argument to the function (*struct).
	Reply         any        // The reply from the function (*struct).
	Error         error      // After completion, the error status.
	Done          chan *Call // Receives *Call when Go is complete.
}

type Client struct {
	conn io.ReadWriteCloser

	sendMu sync.Mutex // serializes writes so concurrent calls cannot interleave frames
	enc    *cbor.Encoder

	mutex    sync.Mutex // protects following fields
	seq      uint64
	pending  map[uint64]*Call
	closing  bool // user has called Close
	shutdown bool // the read loop has terminated
}

func (client *Client) send(call *Call) {
	// Register this call.
	client.mutex.Lock()
	if client.closing || client.shutdown {
		client.mutex.Unlock()
		call.Error = ErrShutdown
		call.done()
		return
	}
	seq := client.seq
	client.seq++
	client.pending[seq] = call
	client.mutex.Unlock()

	// Encode and send the request.
	req := &RequestHeader{
		Method: call.ServiceMethod,
		Seq:    seq,
	}

	client.sendMu.Lock()
	err := client.enc.Encode(req)
	if err == nil {
		err = client.enc.Encode(call.Args)
	}
	client.sendMu.Unlock()

	// If either request encoding fails, remove the call from the pending map
	if err != nil {
		client.mutex.Lock()
		delete(client.pending, seq)
		client.mutex.Unlock()
		call.Error = err
		call.done()
	}
}

func (call *Call) done() {
	select {
	case call.Done <- call:
		// ok
	default:
		// We don't want to block here. It is the caller's responsibility to make
		// sure the channel has enough buffer space. See comment in Go().
		log.Debugf("rpc: discarding Call reply due to insufficient Done chan capacity")
	}
}

// input runs as a goroutine per client, matching replies to pending calls.
func (client *Client) input() {
	var err error

	decoder := cbor.NewDecoder(client.conn)
	for err == nil {
		response := ResponseHeader{}
		if err = decoder.Decode(&response); err != nil {
			break
		}

		client.mutex.Lock()
		call := client.pending[response.Seq]
		delete(client.pending, response.Seq)
		client.mutex.Unlock()

		switch {
		case call == nil:
			// No pending call. That usually means the request write partially
			// failed and the call was already removed. Consume the body, if
			// any, to stay aligned with the stream.
			if response.Err == "" {
				var dummy any
				if e := decoder.Decode(&dummy); e != nil {
					err = e
				}
			}
			log.Warnf("rpc: received reply for unknown sequence %d, discarding", response.Seq)

		case response.Err != "":
			call.Error = ServerError(response.Err)
			call.done()

		default:
			if err = decoder.Decode(call.Reply); err != nil {
				call.Error = err
			}
			call.done()
		}
	}

	// Terminate pending calls
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.shutdown = true
	shutdownError := err
	if client.closing || err == io.EOF || errors.Is(err, net.ErrClosed) {
		shutdownError = ErrShutdown
		log.Debugf("rpc: client connection closed, failing %d pending calls", len(client.pending))
	} else {
		log.Warnf("rpc: client input loop error: %v, failing %d pending calls", err, len(client.pending))
	}

	for _, call := range client.pending {
		call.Error = shutdownError
		call.done()
	}
	client.pending = make(map[uint64]*Call)
}

func NewClient(conn io.ReadWriteCloser) *Client {
	client := &Client{
		conn:    conn,
		enc:     cbor.NewEncoder(conn),
		pending: make(map[uint64]*Call),
	}
	go client.input()
	return client
}

// Dial connects to an RPC server at the specified network address.
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Go invokes the function asynchronously. It returns the Call structure representing
// the invocation. The done channel will signal when the call is complete by returning
// the same Call object. If done is nil, Go will allocate a new channel.
// If non-nil, done must be buffered or the reply will be discarded.
func (client *Client) Go(serviceMethod string, args any, reply any, done chan *Call) *Call {
	call := new(Call)
	call.ServiceMethod = serviceMethod
	call.Args = args
	call.Reply = reply
	if done == nil {
		done = make(chan *Call, 1) // buffered.
	}
	call.Done = done
	client.send(call)
	return call
}

// Call invokes the named function, waits for it to complete, and returns its error status.
func (client *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	call := client.Go(serviceMethod, args, reply, make(chan *Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-call.Done:
		return resp.Error
	}
}

// Close calls the underlying connection's Close method.
// If the connection is already shutting down, ErrShutdown is returned.
func (client *Client) Close() error {
	client.mutex.Lock()
	if client.closing {
		client.mutex.Unlock()
		return ErrShutdown
	}
	client.closing = true
	client.mutex.Unlock()
	return client.conn.Close() // This will cause client.input() to exit and cleanup
}
