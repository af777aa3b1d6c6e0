package upgrade

import (
	"context"
	"database/sql"
)

func init() {
	// Rows imported from the previous service may carry checksummed
	// addresses or upper-case hashes; replay checks compare lower-case.
	RegisterDataHook(2, "002_lowercase_payment_hashes", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE payments
			   SET tx_hash = LOWER(tx_hash),
			       from_address = LOWER(from_address),
			       to_address = LOWER(to_address)
			 WHERE tx_hash <> LOWER(tx_hash)
			    OR from_address <> LOWER(from_address)
			    OR to_address <> LOWER(to_address)`)
		return err
	})
}
