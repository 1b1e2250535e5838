package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type methodType struct {
	sync.Mutex // protects counters
	method     reflect.Method
	ArgType    reflect.Type
	ReplyType  reflect.Type
	numCalls   uint
}

type service struct {
	name   string                 // name of service
	rcvr   reflect.Value          // receiver of methods for the service
	typ    reflect.Type           // type of the receiver
	method map[string]*methodType // registered methods
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

// Register publishes the exported, suitably typed methods of rcvr. The wire
// method name is "<TypeName>.<MethodName>".
func (srv *Server) Register(rcvr any) error {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.rcvr = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.rcvr).Type().Name()
	if sname == "" {
		s := fmt.Sprintf("rpc.Register: no service name for type %s", s.typ.String())
		log.Error(s)
		return errors.New(s)
	}
	if !token.IsExported(sname) {
		s := "rpc.Register: type " + sname + " is not exported"
		log.Error(s)
		return errors.New(s)
	}
	s.name = sname

	// Install the methods
	s.method = suitableMethods(s.typ)
	if len(s.method) == 0 {
		str := "rpc.Register: type " + sname + " has no exported methods of suitable type"
		log.Error(str)
		return errors.New(str)
	}

	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return errors.New("rpc: service already defined: " + sname)
	}

	// Some debug logging
	for m := range s.method {
		log.Debugf("rpc.Register: %s.%s", sname, m)
	}

	return nil
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableMethods returns methods of typ that look like
// func (t *T) Name(args *Args, reply *Reply) error
func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		// Method must be exported.
		if !method.IsExported() {
			continue
		}
		// Method needs three ins: receiver, *args, *reply.
		if mtype.NumIn() != 3 {
			log.Errorf("rpc.Register: method %q has %d input parameters; needs exactly three", mname, mtype.NumIn())
			continue
		}
		// First arg need not be a pointer.
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Errorf("rpc.Register: argument type of method %q is not exported: %q", mname, argType)
			continue
		}
		// Second arg must be a pointer.
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Pointer {
			log.Errorf("rpc.Register: reply type of method %q is not a pointer: %q", mname, replyType)
			continue
		}
		// Reply type must be exported.
		if !isExportedOrBuiltinType(replyType) {
			log.Errorf("rpc.Register: reply type of method %q is not exported: %q", mname, replyType)
			continue
		}
		// Method needs one out.
		if mtype.NumOut() != 1 {
			log.Errorf("rpc.Register: method %q has %d output parameters; needs exactly one", mname, mtype.NumOut())
			continue
		}
		// The return type of the method must be error.
		if returnType := mtype.Out(0); returnType != reflect.TypeOf((*error)(nil)).Elem() {
			log.Errorf("rpc.Register: return type of method %q is %q, must be error", mname, returnType)
			continue
		}
		methods[mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType}
	}
	return methods
}

// Serve accepts connections until ctx is cancelled. Cancellation closes the
// listener, which unblocks Accept.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Infof("crpc.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rw, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Accept failing after cancellation is the expected shutdown path
				log.Infof("crpc.Server: listener %s shut down", srv.listener.Addr())
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("crpc.Server: Accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}

			log.Errorf("crpc.Server: accept error on %s: %v, server stopping", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Infof("crpc.Server: accepted connection from %s on %s", rw.RemoteAddr().String(), srv.listener.Addr())
		go srv.serveConn(ctx, rw)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	decoder := cbor.NewDecoder(conn)
	encoder := cbor.NewEncoder(conn)
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			log.Infof("crpc.Server: closing connection %s on shutdown", conn.RemoteAddr())
			return
		default:
		}

		// Read the request header
		req := &RequestHeader{}
		err := decoder.Decode(req)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debugf("crpc.Server: connection %s closed: %v", conn.RemoteAddr(), err)
			} else {
				log.Errorf("crpc.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		dot := strings.LastIndex(req.Method, ".")
		if dot < 0 {
			log.Errorf("crpc.Server: service/method request ill-formed: %q from %s", req.Method, conn.RemoteAddr())
			return
		}
		serviceName := req.Method[:dot]
		methodName := req.Method[dot+1:]

		// Look up the method
		var svc *service
		var mtype *methodType
		if svci, ok := srv.serviceMap.Load(serviceName); ok {
			svc = svci.(*service)
			mtype = svc.method[methodName]
		}
		if mtype == nil {
			// Consume the argument body and answer with an error so one bad
			// method name does not kill the connection
			var discard any
			if err := decoder.Decode(&discard); err != nil {
				log.Errorf("crpc.Server: error consuming argument for unknown method %q from %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
			log.Warnf("crpc.Server: can't find method %q requested by %s", req.Method, conn.RemoteAddr())
			repl := &ResponseHeader{Seq: req.Seq, Err: fmt.Sprintf("rpc: can't find method %q", req.Method)}
			if err := encoder.Encode(repl); err != nil {
				log.Errorf("crpc.Server: error encoding response header for %s: %v", conn.RemoteAddr(), err)
				return
			}
			continue
		}

		// Decode the argument value
		var argv reflect.Value
		argIsValue := false
		if mtype.ArgType.Kind() == reflect.Pointer {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
			argIsValue = true
		}

		if err := decoder.Decode(argv.Interface()); err != nil {
			log.Errorf("crpc.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if argIsValue {
			argv = argv.Elem()
		}

		repl := &ResponseHeader{Seq: req.Seq}
		replyv := reflect.New(mtype.ReplyType.Elem())

		// Call the service, catching panics so a broken handler only fails
		// the one call
		var callErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("crpc.Server: panic during RPC call %s from %s: %v", req.Method, conn.RemoteAddr(), r)
					callErr = fmt.Errorf("rpc: internal server error during %s", req.Method)
				}
			}()
			callErr = svc.call(mtype, argv, replyv)
		}()

		if callErr != nil {
			repl.Err = callErr.Error()
		}

		// Encode the response header, then the body for successful calls
		if err := encoder.Encode(repl); err != nil {
			log.Errorf("crpc.Server: error encoding response header for %s on %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if callErr == nil {
			if err := encoder.Encode(replyv.Interface()); err != nil {
				log.Errorf("crpc.Server: error encoding response body for %s on %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) error {
	mtype.Lock()
	mtype.numCalls++
	mtype.Unlock()
	function := mtype.method.Func
	// Invoke the method, providing a new value for the reply.
	returnValues := function.Call([]reflect.Value{svc.rcvr, argv, replyv})
	// The return value for the method is an error.
	errInter := returnValues[0].Interface()
	if errInter != nil {
		return errInter.(error)
	}
	return nil
}

// Addr returns the addresses on which the server is reachable. A listener
// bound to a specific IP yields just that address. A wildcard listener
// yields the listen port combined with the address of every interface that
// is up, filtered to the listener's address family.
func (srv *Server) Addr() []net.Addr {
	listenerAddr := srv.listener.Addr()
	tcpAddr, ok := listenerAddr.(*net.TCPAddr)
	if !ok {
		return []net.Addr{listenerAddr}
	}
	if tcpAddr.IP != nil && !tcpAddr.IP.IsUnspecified() {
		return []net.Addr{tcpAddr}
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("crpc.Server.Addr: failed to get network interfaces: %v", err)
		return []net.Addr{listenerAddr}
	}

	// A nil IP means the listener came from an address like ":5330" and
	// accepts both families
	wantV4 := tcpAddr.IP.To4() != nil

	var addresses []net.Addr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		ifaddrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("crpc.Server.Addr: could not get addresses for interface %s: %v", iface.Name, err)
			continue
		}
		for _, addr := range ifaddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			if tcpAddr.IP != nil && (ip.To4() != nil) != wantV4 {
				continue
			}
			addresses = append(addresses, &net.TCPAddr{IP: ip, Port: tcpAddr.Port})
		}
	}

	if len(addresses) == 0 {
		return []net.Addr{listenerAddr}
	}
	return addresses
}
