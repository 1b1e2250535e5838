// Package mpubsub implements a Multicast PubSub.
// Publish: a CBOR-encoded message is sent to a multicast group.
// Subscribe: a listener receives a message over the network and distributes it to a registered callback.
//
// Not every group member subscribes to every topic. Messages nobody
// registered for are dropped quietly.
package mpubsub

import (
	"bytes"
	"context"
	"errors"
	"go/token"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type MessageHeader struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
}

type handlerType struct {
	method  reflect.Method
	argType reflect.Type
}

type service struct {
	name    string
	sub     reflect.Value
	typ     reflect.Type
	methods map[string]*handlerType
}

type PubSub struct {
	rc         *net.UDPConn
	wc         *net.UDPConn
	serviceMap sync.Map
}

func New(rconn *net.UDPConn, wconn *net.UDPConn) *PubSub {
	return &PubSub{
		rc: rconn,
		wc: wconn,
	}
}

// Open joins the multicast group at address and returns a PubSub wired for
// both publishing and listening.
func Open(address string) (*PubSub, error) {
	mcastAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}

	rconn, err := net.ListenMulticastUDP("udp4", nil, mcastAddr)
	if err != nil {
		return nil, err
	}

	wconn, err := net.DialUDP("udp4", nil, mcastAddr)
	if err != nil {
		rconn.Close()
		return nil, err
	}

	log.Infof("mpubsub: joined multicast group %s", mcastAddr)

	return New(rconn, wconn), nil
}

// Close releases both sockets. Listen, if running, will return.
func (ps *PubSub) Close() error {
	err := ps.rc.Close()
	if werr := ps.wc.Close(); err == nil {
		err = werr
	}
	return err
}

func (ps *PubSub) Register(rcvr any) {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.sub = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.sub).Type().Name()
	if sname == "" {
		log.Errorf("mpubsub.Register: no service name for type %s", s.typ.String())
		return
	}
	if !token.IsExported(sname) {
		log.Errorf("mpubsub.Register: type %q is not exported", sname)
		return
	}
	s.name = sname

	// Install the methods
	s.methods = suitableHandlers(s.typ)
	if len(s.methods) == 0 {
		log.Errorf("mpubsub.Register: type %s has no exported methods of suitable type", sname)
		return
	}
	ps.serviceMap.Store(sname, s)

	// Some debug logging
	for m := range s.methods {
		log.Debugf("mpubsub.Register: %s.%s", sname, m)
	}
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableHandlers returns methods of typ that look like
// func (t *T) Name(msg *Msg)
func suitableHandlers(typ reflect.Type) map[string]*handlerType {
	handlers := make(map[string]*handlerType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		// Method must be exported.
		if !method.IsExported() {
			continue
		}
		// Method needs one in besides the receiver.
		if mtype.NumIn() != 2 {
			log.Errorf("mpubsub.Register: method %q has %d input parameters; needs exactly two", mname, mtype.NumIn())
			continue
		}
		// The arg must be an exported pointer type.
		argType := mtype.In(1)
		if argType.Kind() != reflect.Pointer {
			log.Errorf("mpubsub.Register: argument type of method %q is not a pointer: %q", mname, argType)
			continue
		}
		if !isExportedOrBuiltinType(argType) {
			log.Errorf("mpubsub.Register: argument type of method %q is not exported: %q", mname, argType)
			continue
		}
		// Method needs zero outs.
		if mtype.NumOut() != 0 {
			log.Errorf("mpubsub.Register: method %q has %d output parameters; needs exactly zero", mname, mtype.NumOut())
			continue
		}
		handlers[mname] = &handlerType{method: method, argType: argType}
	}
	return handlers
}

func (ps *PubSub) Publish(serviceMethod string, args any) error {
	msg := MessageHeader{
		ServiceMethod: serviceMethod,
	}

	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(msg); err != nil {
		return err
	}
	if err := enc.Encode(args); err != nil {
		return err
	}

	if _, err := ps.wc.Write(buf.Bytes()); err != nil {
		return err
	}

	return nil
}

// Listen reads messages and dispatches them to registered handlers until
// ctx is cancelled. Cancellation closes the read socket, which unblocks
// the read.
func (ps *PubSub) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Debugf("mpubsub: context cancelled, closing read socket")
		ps.rc.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, from, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}

		ps.dispatch(buf[:n], from)
	}
}

func (ps *PubSub) dispatch(raw []byte, from *net.UDPAddr) {
	// Wrap the message in a reader and pass on to CBOR decoder
	dec := cbor.NewDecoder(bytes.NewReader(raw))

	var msg MessageHeader
	if err := dec.Decode(&msg); err != nil {
		log.Errorf("mpubsub: failed to unmarshal message from %s: %v", from, err)
		return
	}

	dot := strings.LastIndex(msg.ServiceMethod, ".")
	if dot < 0 {
		log.Errorf("mpubsub: service/method ill-formed: %q from %s", msg.ServiceMethod, from)
		return
	}
	serviceName := msg.ServiceMethod[:dot]
	methodName := msg.ServiceMethod[dot+1:]

	svci, ok := ps.serviceMap.Load(serviceName)
	if !ok {
		log.Debugf("mpubsub: no subscriber for %s", msg.ServiceMethod)
		return
	}
	svc := svci.(*service)

	handler := svc.methods[methodName]
	if handler == nil {
		log.Debugf("mpubsub: no handler for %s", msg.ServiceMethod)
		return
	}

	arg := reflect.New(handler.argType.Elem())
	if err := dec.Decode(arg.Interface()); err != nil {
		log.Errorf("mpubsub: failed to unmarshal arguments for %s from %s: %v", msg.ServiceMethod, from, err)
		return
	}

	function := handler.method.Func
	function.Call([]reflect.Value{svc.sub, arg})
}
