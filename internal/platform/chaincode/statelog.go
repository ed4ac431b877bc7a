package chaincode

import (
	"context"
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"github.com/medledger/medledger/internal/platform/ledger"
)

// StateLog adapts a chaincode stub to ledger.Log. Conditions are checked
// against the world state the transaction was simulated on; the endorsement
// read set turns a concurrent change into an MVCC conflict at commit time.
type StateLog struct {
	stub shim.ChaincodeStubInterface
}

func NewStateLog(stub shim.ChaincodeStubInterface) *StateLog {
	return &StateLog{stub: stub}
}

func (s *StateLog) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func (s *StateLog) Scan(_ context.Context, prefix string) ([]ledger.KV, error) {
	iter, err := s.stub.GetStateByRange(prefix, ledger.PrefixEnd(prefix))
	if err != nil {
		return nil, fmt.Errorf("range state %s: %w", prefix, err)
	}
	defer iter.Close()

	var out []ledger.KV
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("iterate state %s: %w", prefix, err)
		}
		out = append(out, ledger.KV{Key: kv.Key, Value: kv.Value})
	}
	return out, nil
}

func (s *StateLog) Append(ctx context.Context, tx *ledger.Tx) error {
	for _, c := range tx.Expect {
		current, err := s.Get(ctx, c.Key)
		if err != nil {
			return err
		}
		if !c.Holds(current) {
			return ledger.ErrConflict
		}
	}
	for _, p := range tx.Puts {
		if err := s.stub.PutState(p.Key, p.Value); err != nil {
			return fmt.Errorf("put state %s: %w", p.Key, err)
		}
	}
	return nil
}
