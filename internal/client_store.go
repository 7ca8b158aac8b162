package internal

import (
	"sync"
	"sync/atomic"

	"github.com/rovyn/meshbridge/pkg/errors"
)

// ClientMetadata tracks one bridge peer's bookkeeping: where it came from,
// which listener accepted it, when it last produced a valid frame, and its
// traffic counters. Counters are written by the connection's own goroutines
// and read by the console's stats command, hence the per-entry lock.
type ClientMetadata struct {
	Mut          sync.RWMutex
	RemoteAddr   string
	Transport    string
	CreatedTime  int64
	LastRecvTime int64
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
}

// ClientInfo is a read-only snapshot of one client's metadata.
type ClientInfo struct {
	ClientId     uint32
	RemoteAddr   string
	Transport    string
	CreatedTime  int64
	LastRecvTime int64
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
}

// ClientStore enforces the bridge's client capacity and owns per-connection
// metadata. Membership mutation happens only through the hub; everything else
// takes read locks.
type ClientStore struct {
	MaxConnections int

	nextClientId atomic.Uint32

	mut_clients sync.RWMutex
	clients     map[uint32]*ClientMetadata
}

func CreateClientStore(maxConnections int) *ClientStore {
	return &ClientStore{
		MaxConnections: maxConnections,
		clients:        make(map[uint32]*ClientMetadata),
	}
}

func (store *ClientStore) GetNewClientId() uint32 {
	return store.nextClientId.Add(1)
}

// CreateClient registers a new connection. Capacity is checked here, before
// any per-connection resources exist, so an over-capacity peer costs nothing
// beyond the accept itself.
func (store *ClientStore) CreateClient(clientId uint32, remoteAddr, transport string, timestamp int64) error {
	store.mut_clients.Lock()
	defer store.mut_clients.Unlock()

	if _, has := store.clients[clientId]; has {
		return &errors.DuplicateClientId{Id: clientId}
	}

	if len(store.clients) >= store.MaxConnections {
		return &errors.ConnectionCapacityExceeded{MaxClients: store.MaxConnections}
	}

	store.clients[clientId] = &ClientMetadata{
		RemoteAddr:   remoteAddr,
		Transport:    transport,
		CreatedTime:  timestamp,
		LastRecvTime: timestamp,
	}

	return nil
}

func (store *ClientStore) RemoveClient(clientId uint32) {
	store.mut_clients.Lock()
	defer store.mut_clients.Unlock()
	delete(store.clients, clientId)
}

func (store *ClientStore) HasClient(clientId uint32) bool {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	_, has := store.clients[clientId]
	return has
}

func (store *ClientStore) Count() int {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()
	return len(store.clients)
}

func (store *ClientStore) RecordFrameIn(clientId uint32, timestamp int64) error {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	client, has := store.clients[clientId]
	if !has {
		return &errors.MissingClientId{Id: clientId}
	}

	client.Mut.Lock()
	defer client.Mut.Unlock()
	client.LastRecvTime = timestamp
	client.FramesIn++
	return nil
}

func (store *ClientStore) RecordFrameOut(clientId uint32) error {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	client, has := store.clients[clientId]
	if !has {
		return &errors.MissingClientId{Id: clientId}
	}

	client.Mut.Lock()
	defer client.Mut.Unlock()
	client.FramesOut++
	return nil
}

func (store *ClientStore) RecordDecodeError(clientId uint32) error {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	client, has := store.clients[clientId]
	if !has {
		return &errors.MissingClientId{Id: clientId}
	}

	client.Mut.Lock()
	defer client.Mut.Unlock()
	client.DecodeErrors++
	return nil
}

// GetIdleClientList returns the IDs of clients whose last valid inbound frame
// predates the deadline.
func (store *ClientStore) GetIdleClientList(recvDeadline int64) []uint32 {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	idleClients := []uint32{}

	for clientId, client := range store.clients {
		client.Mut.RLock()
		isIdle := client.LastRecvTime < recvDeadline
		client.Mut.RUnlock()

		if isIdle {
			idleClients = append(idleClients, clientId)
		}
	}

	return idleClients
}

// ListClients snapshots every client's metadata for diagnostics.
func (store *ClientStore) ListClients() []ClientInfo {
	store.mut_clients.RLock()
	defer store.mut_clients.RUnlock()

	infos := make([]ClientInfo, 0, len(store.clients))
	for clientId, client := range store.clients {
		client.Mut.RLock()
		infos = append(infos, ClientInfo{
			ClientId:     clientId,
			RemoteAddr:   client.RemoteAddr,
			Transport:    client.Transport,
			CreatedTime:  client.CreatedTime,
			LastRecvTime: client.LastRecvTime,
			FramesIn:     client.FramesIn,
			FramesOut:    client.FramesOut,
			DecodeErrors: client.DecodeErrors,
		})
		client.Mut.RUnlock()
	}

	return infos
}
