package exchange

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"aphdex/core/types"
)

func TestDepositExternalPullsFromToken(t *testing.T) {
	h := newHarness(t)
	u := testAddress(0x01)
	h.token(h.tokA).balances[u] = big.NewInt(500)

	_, err := h.engine.Deposit(u, h.tokA, big.NewInt(200))
	require.ErrorIs(t, err, ErrAuthorization)
	require.Equal(t, []string{EventTypeDepositError}, h.rec.Types())

	h.whitelist(u)
	_, err = h.engine.Deposit(u, h.tokA, big.NewInt(200))
	require.ErrorIs(t, err, ErrInsufficientFunds, "token refuses without the depositor's witness")

	h.sign(u)
	_, err = h.engine.Deposit(u, h.tokA, big.NewInt(0))
	require.ErrorIs(t, err, ErrValidation)

	credited, err := h.engine.Deposit(u, h.tokA, big.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, int64(200), credited.Int64())
	require.Equal(t, int64(200), h.balance(h.tokA, u))
	require.Equal(t, int64(200), h.tracked(h.tokA))
	require.Equal(t, int64(300), h.token(h.tokA).balances[u].Int64())
	require.Equal(t, int64(200), h.token(h.tokA).balances[h.contract].Int64())
	require.Equal(t, EventTypeDeposit, h.lastEvent().Type)
}

func TestDepositUnregisteredToken(t *testing.T) {
	h := newHarness(t)
	u := testAddress(0x01)
	h.whitelist(u)
	h.sign(u)
	_, err := h.engine.Deposit(u, h.newToken(0xDD), big.NewInt(1))
	require.ErrorIs(t, err, ErrValidation)
}

func TestDepositSystemAssets(t *testing.T) {
	h := newHarness(t)
	u := testAddress(0x01)
	h.whitelist(u)
	h.chain.tx = &types.Transaction{
		Type:       types.TxTypeInvocation,
		Inputs:     []types.Input{{PrevHash: testHash(0x30), PrevIndex: 0}},
		References: []types.Output{h.neoOutput(u, 3*neoUnit)},
		Outputs: []types.Output{
			h.neoOutput(h.contract, 3*neoUnit),
			h.gasOutput(h.contract, 7),
		},
	}

	credited, err := h.engine.Deposit(u, h.neo, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3*neoUnit), credited.Int64())
	require.Equal(t, int64(3*neoUnit), h.balance(h.neo, u))
	require.Equal(t, int64(7), h.balance(h.gas, u), "all captured system assets are credited")
	require.Equal(t, int64(3*neoUnit), h.tracked(h.neo))
	require.Equal(t, int64(7), h.tracked(h.gas))
}

func TestCaptureSubtractsForeignInputs(t *testing.T) {
	h := newHarness(t)
	u, other := testAddress(0x01), testAddress(0x02)
	h.chain.tx = &types.Transaction{
		Type: types.TxTypeInvocation,
		Inputs: []types.Input{
			{PrevHash: testHash(0x30), PrevIndex: 0},
			{PrevHash: testHash(0x31), PrevIndex: 0},
		},
		References: []types.Output{
			h.neoOutput(u, 2*neoUnit),
			h.neoOutput(other, 1*neoUnit),
		},
		Outputs: []types.Output{h.neoOutput(h.contract, 3*neoUnit)},
	}

	captured, err := h.engine.CaptureSystemAssets(u)
	require.NoError(t, err)
	require.Equal(t, int64(2*neoUnit), captured.NEO.Int64())
	require.Zero(t, captured.GAS.Sign())
	require.Equal(t, int64(2*neoUnit), h.balance(h.neo, u))
	require.Zero(t, h.balance(h.gas, u))
}

func TestCaptureFullyForeignCreditsNothing(t *testing.T) {
	h := newHarness(t)
	u, other := testAddress(0x01), testAddress(0x02)
	h.chain.tx = &types.Transaction{
		Type:       types.TxTypeInvocation,
		Inputs:     []types.Input{{PrevHash: testHash(0x30), PrevIndex: 0}},
		References: []types.Output{h.neoOutput(other, 5*neoUnit)},
		Outputs:    []types.Output{h.neoOutput(h.contract, 3*neoUnit)},
	}
	captured, err := h.engine.CaptureSystemAssets(u)
	require.NoError(t, err)
	require.Negative(t, captured.NEO.Sign())
	require.Zero(t, h.balance(h.neo, u))
	require.Zero(t, h.tracked(h.neo))
}

func TestOnTokenTransfer(t *testing.T) {
	h := newHarness(t)
	u := testAddress(0x01)
	handle, _ := h.tokA.Handle()

	require.ErrorIs(t, h.engine.OnTokenTransfer(handle, u, h.contract, big.NewInt(50)), ErrAuthorization)

	h.whitelist(u)
	require.ErrorIs(t, h.engine.OnTokenTransfer(handle, u, testAddress(0x09), big.NewInt(50)), ErrValidation)
	require.ErrorIs(t, h.engine.OnTokenTransfer(handle, u, h.contract, big.NewInt(0)), ErrValidation)
	require.ErrorIs(t, h.engine.OnTokenTransfer(testAddress(0xDD), u, h.contract, big.NewInt(50)), ErrValidation)

	require.NoError(t, h.engine.OnTokenTransfer(handle, u, h.contract, big.NewInt(50)))
	require.Equal(t, int64(50), h.balance(h.tokA, u))
	require.Equal(t, int64(50), h.tracked(h.tokA))
	evt := h.lastEvent()
	require.Equal(t, EventTypeDeposit, evt.Type)
}
