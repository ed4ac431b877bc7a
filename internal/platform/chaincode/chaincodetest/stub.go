// Package chaincodetest provides an in-memory chaincode stub for tests of code
// that runs against Fabric world state.
package chaincodetest

import (
	"sort"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Event is a chaincode event recorded by Stub.SetEvent.
type Event struct {
	Name    string
	Payload []byte
}

// Stub implements the subset of shim.ChaincodeStubInterface used by the
// registry. Writes are visible immediately, unlike a real peer which only
// exposes them after commit. Calling any other method panics.
type Stub struct {
	shim.ChaincodeStubInterface

	State  map[string][]byte
	Events []Event
	TxID   string
	Now    time.Time
}

func NewStub() *Stub {
	return &Stub{
		State: make(map[string][]byte),
		TxID:  "tx-1",
		Now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *Stub) GetState(key string) ([]byte, error) {
	return s.State[key], nil
}

func (s *Stub) PutState(key string, value []byte) error {
	s.State[key] = value
	return nil
}

func (s *Stub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	var keys []string
	for k := range s.State {
		if k >= startKey && (endKey == "" || k < endKey) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	it := &iterator{}
	for _, k := range keys {
		it.kvs = append(it.kvs, &queryresult.KV{Key: k, Value: s.State[k]})
	}
	return it, nil
}

func (s *Stub) GetTxID() string {
	return s.TxID
}

func (s *Stub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.Now), nil
}

func (s *Stub) SetEvent(name string, payload []byte) error {
	s.Events = append(s.Events, Event{Name: name, Payload: payload})
	return nil
}

type iterator struct {
	kvs []*queryresult.KV
	pos int
}

func (it *iterator) HasNext() bool { return it.pos < len(it.kvs) }

func (it *iterator) Close() error { return nil }

func (it *iterator) Next() (*queryresult.KV, error) {
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}
