package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/oceanraft/raftcore"
)

// Connector implements raftcore.Connector over gRPC. Send never blocks
// the caller on network I/O: it hands the message to a goroutine and
// returns, matching the core's send-and-forget contract. Connections are
// cached per peer behind a one-shot lazy dial under a mutex: the first
// send to a peer resolves and dials it while holding mu, so concurrent
// sends to the same peer share one connection.
type Connector struct {
	dir    *Directory
	logger *log.Logger

	mu    sync.Mutex
	conns map[raftcore.NodeId]*grpc.ClientConn
}

// NewConnector builds a Connector resolving peers through dir.
func NewConnector(dir *Directory, logger *log.Logger) *Connector {
	if logger == nil {
		logger = log.Default()
	}
	return &Connector{
		dir:    dir,
		logger: logger,
		conns:  make(map[raftcore.NodeId]*grpc.ClientConn),
	}
}

func (c *Connector) Send(to raftcore.NodeId, msg raftcore.Message) {
	go c.send(to, msg)
}

func (c *Connector) send(to raftcore.NodeId, msg raftcore.Message) {
	conn, err := c.connFor(to)
	if err != nil {
		c.logger.Printf("transport: couldn't reach %s: %v", to, err)
		return
	}

	env, err := EncodeEnvelope(msg)
	if err != nil {
		c.logger.Printf("transport: couldn't encode message to %s: %v", to, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply Envelope
	if err := conn.Invoke(ctx, "/raftcore.Raft/Deliver", &env, &reply); err != nil {
		c.logger.Printf("transport: delivery to %s failed: %v", to, err)
	}
}

func (c *Connector) connFor(to raftcore.NodeId) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[to]; ok {
		return conn, nil
	}

	addr, err := c.dir.Resolve(to)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.Dial(addr,
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		return nil, err
	}

	c.conns[to] = conn
	return conn, nil
}

// Close tears down every cached connection.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, conn := range c.conns {
		conn.Close()
		delete(c.conns, id)
	}
}
