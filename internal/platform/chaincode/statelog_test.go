package chaincode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/medledger/internal/platform/chaincode/chaincodetest"
	"github.com/medledger/medledger/internal/platform/ledger"
)

func TestStateLog_GetMissingKey(t *testing.T) {
	l := NewStateLog(chaincodetest.NewStub())
	v, err := l.Get(context.Background(), "account/0xabc")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStateLog_ScanOrderAndPrefix(t *testing.T) {
	ctx := context.Background()
	l := NewStateLog(chaincodetest.NewStub())
	tx := new(ledger.Tx).
		Put("report/0xa/00000000000000000002", []byte("2")).
		Put("report/0xa/00000000000000000001", []byte("1")).
		Put("report/0xab/00000000000000000001", []byte("other"))
	require.NoError(t, l.Append(ctx, tx))

	kvs, err := l.Scan(ctx, "report/0xa/")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "report/0xa/00000000000000000001", kvs[0].Key)
	assert.Equal(t, "report/0xa/00000000000000000002", kvs[1].Key)
}

func TestStateLog_ConditionFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	stub := chaincodetest.NewStub()
	l := NewStateLog(stub)
	require.NoError(t, l.Append(ctx, new(ledger.Tx).Put("k", []byte("v1"))))

	err := l.Append(ctx, new(ledger.Tx).ExpectAbsent("k").Put("k", []byte("v2")).Put("other", []byte("x")))
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, "v1", string(stub.State["k"]))
	assert.NotContains(t, stub.State, "other")

	require.NoError(t, l.Append(ctx, new(ledger.Tx).ExpectValue("k", []byte("v1")).Put("k", []byte("v2"))))
	assert.Equal(t, "v2", string(stub.State["k"]))
}
