package backend

import (
	"context"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/swapclient/internal/refund"
)

// LockedFunds buckets what was paid to an HTLC address. Confirmed unspent
// outputs are spendable; funded outputs no longer unspent were spent.
// Unconfirmed outputs are left out until they confirm. On-chain HTLCs have
// no recoverable bucket.
func LockedFunds(ctx context.Context, b Backend, address string) (refund.Buckets, error) {
	txs, err := b.GetAddressTxs(ctx, address)
	if err != nil {
		return refund.Buckets{}, fmt.Errorf("failed to list %s: %w", address, err)
	}
	utxos, err := b.GetAddressUTXOs(ctx, address)
	if err != nil {
		return refund.Buckets{}, fmt.Errorf("failed to list utxos of %s: %w", address, err)
	}

	unspent := make(map[string]bool, len(utxos))
	spendable := new(big.Int)
	for _, u := range utxos {
		unspent[fmt.Sprintf("%s:%d", u.TxID, u.Vout)] = true
		if u.Confirmed {
			spendable.Add(spendable, new(big.Int).SetUint64(u.Amount))
		}
	}

	spent := new(big.Int)
	for _, tx := range txs {
		if !tx.Confirmed {
			continue
		}
		for i, out := range tx.Outputs {
			if out.Address != address || unspent[fmt.Sprintf("%s:%d", tx.TxID, i)] {
				continue
			}
			spent.Add(spent, new(big.Int).SetUint64(out.Value))
		}
	}

	return refund.Buckets{Spendable: spendable, Spent: spent, Recoverable: new(big.Int)}, nil
}
