package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"griddeployer/ledger"
)

func TestDecodeDeployer(t *testing.T) {
	rec := &DeployerRecord{
		Authority:      ledger.Address{0x10},
		OwnerKey:       ledger.Address{0x20},
		FeeBasisPoints: 500,
		FlatFee:        1_000,
	}
	decoded, err := DecodeDeployer(EncodeDeployer(rec))
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestDecodeBoard(t *testing.T) {
	rec := &BoardRecord{RoundID: 7, StartSlot: 900, EndSlot: 1_100}
	decoded, err := DecodeBoard(EncodeBoard(rec))
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestDecodeBoardUnboundedEndSlot(t *testing.T) {
	decoded, err := DecodeBoard(EncodeBoard(&BoardRecord{RoundID: 8, EndSlot: UnboundedEndSlot}))
	require.NoError(t, err)
	require.Equal(t, UnboundedEndSlot, decoded.EndSlot)
}

func TestDecodeMiner(t *testing.T) {
	rec := &MinerRecord{
		Authority:      ledger.Address{0x10},
		CheckpointID:   6,
		RoundID:        7,
		PendingRewards: 42,
	}
	for i := range rec.SquareTotals {
		rec.SquareTotals[i] = uint64(i) * 100
	}
	decoded, err := DecodeMiner(EncodeMiner(rec))
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestDecodeRejectsWrongTag(t *testing.T) {
	data := EncodeBoard(&BoardRecord{RoundID: 1})
	_, err := DecodeDeployer(data)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, "deployer", decodeErr.Record)
	require.Contains(t, decodeErr.Reason, "tag")
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	cases := []struct {
		name   string
		decode func([]byte) error
	}{
		{"deployer", func(b []byte) error { _, err := DecodeDeployer(b); return err }},
		{"board", func(b []byte) error { _, err := DecodeBoard(b); return err }},
		{"miner", func(b []byte) error { _, err := DecodeMiner(b); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decode([]byte{TagDeployer, 0x00})
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			require.Equal(t, tc.name, decodeErr.Record)
		})
	}
}

func TestDecodeTrailingBytesTolerated(t *testing.T) {
	// Accounts can be allocated larger than the record; decoders only
	// require the minimum size.
	data := append(EncodeBoard(&BoardRecord{RoundID: 7, EndSlot: 1_100}), 0xFF, 0xFF)
	decoded, err := DecodeBoard(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), decoded.RoundID)
}
