package models

import "encoding/json"

// TransportKind selects the delegate implementation behind a transport channel.
type TransportKind string

const (
	TransportHTTP       TransportKind = "http"
	TransportRadioMesh  TransportKind = "radioMesh"
	TransportPacketMesh TransportKind = "packetMesh"
)

// TransportKinds lists every supported kind in default preference order.
var TransportKinds = []TransportKind{TransportHTTP, TransportPacketMesh, TransportRadioMesh}

// Valid reports whether k is a known transport kind.
func (k TransportKind) Valid() bool {
	switch k {
	case TransportHTTP, TransportRadioMesh, TransportPacketMesh:
		return true
	}
	return false
}

// Internal mesh API paths. Every transport carries the same closed set.
const (
	PathHealth        = "/mesh/health"
	PathCacheSet      = "/mesh/cache/set"
	PathCacheGet      = "/mesh/cache/get"
	PathConsensusVote = "/mesh/consensus/vote"
	PathQuery         = "/mesh/query"
)

// Envelope frames one request or response on the packet and radio meshes.
// Responses echo the request ID so they can be matched to their caller.
type Envelope struct {
	ID      string          `json:"id"`
	From    PeerID          `json:"from,omitempty"`
	To      PeerID          `json:"to,omitempty"`
	APIPath string          `json:"api_path,omitempty"`
	Reply   bool            `json:"reply,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HealthResponse is the body returned by PathHealth.
type HealthResponse struct {
	Node   PeerID `json:"node"`
	Status string `json:"status"`
}

// CacheSetRequest is the body of PathCacheSet.
type CacheSetRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// CacheGetRequest is the body of PathCacheGet.
type CacheGetRequest struct {
	Key string `json:"key"`
}

// CacheGetResponse is the body returned by PathCacheGet.
type CacheGetResponse struct {
	Found bool `json:"found"`
	Value any  `json:"value,omitempty"`
}

// VoteRequest is the body of PathConsensusVote.
type VoteRequest struct {
	Topic string `json:"topic"`
	Value any    `json:"value"`
}

// VoteResponse carries the literal vote token of the responding peer.
type VoteResponse struct {
	Vote string `json:"vote"`
}

// QueryRequest is the body of PathQuery.
type QueryRequest struct {
	QueryType QueryType `json:"query_type"`
	Payload   Payload   `json:"payload"`
}

// QueryResponse is the body returned by PathQuery.
type QueryResponse struct {
	Result any `json:"result"`
}
