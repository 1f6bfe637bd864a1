package ledger

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTransaction(table *TableRef) *Transaction {
	return &Transaction{
		Payer:      Address{0x01},
		RecentSlot: 42,
		Instructions: []Instruction{{
			Program: Address{0xAA},
			Accounts: []AccountMeta{
				{Address: Address{0x10}, Signer: true, Writable: true},
				{Address: Address{0x11}, Writable: true},
			},
			Data: []byte{0x01, 0x02, 0x03},
		}},
		Table: table,
	}
}

func TestMessageRequiresInstructions(t *testing.T) {
	tx := &Transaction{Payer: Address{0x01}}
	_, err := tx.Message()
	require.Error(t, err)
}

func TestMessageDeterministic(t *testing.T) {
	first, err := testTransaction(nil).Message()
	require.NoError(t, err)
	second, err := testTransaction(nil).Message()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMessageCompactReferencesShrinkEncoding(t *testing.T) {
	full, err := testTransaction(nil).Message()
	require.NoError(t, err)

	table := &TableRef{
		Address: Address{0xCC},
		Entries: []Address{{0x10}, {0x11}, {0xAA}},
	}
	compact, err := testTransaction(table).Message()
	require.NoError(t, err)

	// Three referenced addresses collapse from 32 bytes to a 2-byte index
	// each; the table header costs 34 bytes.
	require.Less(t, len(compact)-34, len(full))
	require.Equal(t, byte(0x01), compact[0], "accelerated version byte")
	require.Equal(t, byte(0x00), full[0], "legacy version byte")
}

func TestMessageUnknownAddressesStayFull(t *testing.T) {
	table := &TableRef{Address: Address{0xCC}, Entries: []Address{{0x99}}}
	msg, err := testTransaction(table).Message()
	require.NoError(t, err)
	// None of the transaction's addresses are in the table, so each is
	// embedded in full and must appear verbatim.
	require.True(t, bytes.Contains(msg, Address{0x10}.Bytes()))
	require.True(t, bytes.Contains(msg, Address{0xAA}.Bytes()))
}

func TestSealSignsMessage(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	tx := testTransaction(nil)
	raw, err := tx.Seal(signer)
	require.NoError(t, err)

	require.Equal(t, byte(0x01), raw[0], "one signature")
	sig := raw[1:65]
	msg := raw[65:]
	expected, err := tx.Message()
	require.NoError(t, err)
	require.Equal(t, expected, msg)

	pub := ed25519.PublicKey(signer.Address().Bytes())
	require.True(t, ed25519.Verify(pub, msg, sig))
}

func TestSealRequiresSigner(t *testing.T) {
	_, err := testTransaction(nil).Seal(nil)
	require.Error(t, err)
}

func TestSignerFromHex(t *testing.T) {
	signer, err := SignerFromHex("2222222222222222222222222222222222222222222222222222222222222222")
	require.NoError(t, err)
	again, err := SignerFromHex("2222222222222222222222222222222222222222222222222222222222222222")
	require.NoError(t, err)
	require.Equal(t, signer.Address(), again.Address())

	_, err = SignerFromHex("abcd")
	require.Error(t, err)
	_, err = SignerFromHex("zz")
	require.Error(t, err)
}
