package p2p

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
)

// maxMessageSize bounds a single gossip line. A full block with a few
// hundred transactions fits well inside this.
const maxMessageSize = 10 * 1024 * 1024

// =============================================================================

// Config represents the configuration required to start the gossip server.
type Config struct {
	Host      string
	State     *state.State
	EvHandler state.EventHandler
}

// Server listens for peer connections and floods locally originated blocks
// and transactions to every known peer.
type Server struct {
	host      string
	state     *state.State
	evHandler state.EventHandler

	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	connections map[string]net.Conn
	shutdown    bool
}

// NewServer constructs the gossip server and registers it for block and
// transaction notifications from the state.
func NewServer(cfg Config) *Server {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	srv := Server{
		host:        cfg.Host,
		state:       cfg.State,
		evHandler:   ev,
		connections: make(map[string]net.Conn),
	}

	cfg.State.RegisterBlockListener(srv.shareBlock)
	cfg.State.RegisterTxListener(srv.shareTx)

	return &srv
}

// Start begins accepting peer connections and dials the known peers.
func (srv *Server) Start() error {
	listener, err := net.Listen("tcp", srv.host)
	if err != nil {
		return fmt.Errorf("gossip listen on %s: %w", srv.host, err)
	}
	srv.listener = listener

	srv.evHandler("p2p: Start: listening on %s", srv.host)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.acceptConnections()
	}()

	for _, p := range srv.state.RetrieveKnownPeers() {
		if _, err := srv.connection(p.Host); err != nil {
			srv.evHandler("p2p: Start: dial peer %s: WARNING: %s", p.Host, err)
		}
	}

	return nil
}

// Shutdown closes the listener and every peer connection.
func (srv *Server) Shutdown() error {
	srv.evHandler("p2p: shutdown: started")
	defer srv.evHandler("p2p: shutdown: completed")

	srv.mu.Lock()
	srv.shutdown = true
	for host, conn := range srv.connections {
		conn.Close()
		delete(srv.connections, host)
	}
	srv.mu.Unlock()

	if srv.listener != nil {
		srv.listener.Close()
	}

	srv.wg.Wait()

	return nil
}

// =============================================================================

// acceptConnections runs the accept loop for inbound peers.
func (srv *Server) acceptConnections() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			srv.mu.Lock()
			down := srv.shutdown
			srv.mu.Unlock()
			if down {
				return
			}
			srv.evHandler("p2p: accept: WARNING: %s", err)
			continue
		}

		srv.evHandler("p2p: accept: connection from %s", conn.RemoteAddr())

		srv.trackConnection(conn.RemoteAddr().String(), conn)

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.readLoop(conn)
		}()
	}
}

// readLoop consumes newline delimited messages from one connection until it
// closes or commits a protocol violation.
func (srv *Server) readLoop(conn net.Conn) {
	defer srv.dropConnection(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := srv.dispatch(line); err != nil {
			if errors.Is(err, errProtocol) {
				srv.evHandler("p2p: readLoop: protocol violation from %s: %s: dropping", conn.RemoteAddr(), err)
				return
			}

			// A well formed message the chain rejected keeps the
			// connection alive. Peers legitimately race each other.
			srv.evHandler("p2p: readLoop: rejected message from %s: %s", conn.RemoteAddr(), err)
		}
	}
}

// errProtocol marks violations of the wire format itself.
var errProtocol = errors.New("protocol violation")

// dispatch routes one wire message into the state API.
func (srv *Server) dispatch(line []byte) error {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("%w: bad envelope: %s", errProtocol, err)
	}

	switch msg.Type {
	case TypeNewBlock:
		blockData, err := ToBlockData(msg.Payload)
		if err != nil {
			return fmt.Errorf("%w: %s", errProtocol, err)
		}
		return srv.state.ProcessPeerBlock(blockData)

	case TypeNewTransaction:
		tx, err := ToTx(msg.Payload)
		if err != nil {
			return fmt.Errorf("%w: %s", errProtocol, err)
		}
		return srv.state.UpsertPeerTransaction(tx)

	default:
		return fmt.Errorf("%w: unknown message type %q", errProtocol, msg.Type)
	}
}

// =============================================================================

// shareBlock floods a locally accepted block to every known peer.
func (srv *Server) shareBlock(blockData database.BlockData) {
	msg, err := NewBlockMessage(blockData)
	if err != nil {
		srv.evHandler("p2p: shareBlock: encode: ERROR: %s", err)
		return
	}

	srv.broadcast(msg)
}

// shareTx floods an admitted wallet transaction to every known peer.
func (srv *Server) shareTx(tx database.Tx) {
	msg, err := NewTransactionMessage(tx)
	if err != nil {
		srv.evHandler("p2p: shareTx: encode: ERROR: %s", err)
		return
	}

	srv.broadcast(msg)
}

// broadcast writes the message to every known peer, fire and forget. A
// failed write drops the connection; the peer can reconnect.
func (srv *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		srv.evHandler("p2p: broadcast: marshal: ERROR: %s", err)
		return
	}
	data = append(data, '\n')

	for _, p := range srv.state.RetrieveKnownPeers() {
		conn, err := srv.connection(p.Host)
		if err != nil {
			srv.evHandler("p2p: broadcast: peer %s: WARNING: %s", p.Host, err)
			continue
		}

		if _, err := conn.Write(data); err != nil {
			srv.evHandler("p2p: broadcast: peer %s: write failed: %s", p.Host, err)
			srv.dropConnection(conn)
		}
	}

	srv.evHandler("p2p: broadcast: %s sent", msg.Type)
}

// =============================================================================

// connection returns the existing connection to the host or dials a new one.
// New connections get a read loop so the peer can talk back on the same
// socket.
func (srv *Server) connection(host string) (net.Conn, error) {
	srv.mu.Lock()
	if conn, exists := srv.connections[host]; exists {
		srv.mu.Unlock()
		return conn, nil
	}
	srv.mu.Unlock()

	conn, err := net.Dial("tcp", host)
	if err != nil {
		return nil, err
	}

	srv.trackConnection(host, conn)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.readLoop(conn)
	}()

	return conn, nil
}

func (srv *Server) trackConnection(host string, conn net.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.shutdown {
		conn.Close()
		return
	}

	srv.connections[host] = conn
}

func (srv *Server) dropConnection(conn net.Conn) {
	conn.Close()

	srv.mu.Lock()
	defer srv.mu.Unlock()

	for host, c := range srv.connections {
		if c == conn {
			delete(srv.connections, host)
			return
		}
	}
}

// AddPeer records a new known peer and dials it.
func (srv *Server) AddPeer(host string) error {
	srv.state.AddKnownPeer(peer.New(host))

	_, err := srv.connection(host)
	return err
}
