package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level checks can not be enabled!\n")
			return nil
		}
		sql := `
			-- the state machine only knows these statuses
				ALTER TABLE invoices
				ADD CONSTRAINT check_invoice_status
				CHECK (status IN ('pending', 'processing', 'paid', 'expired', 'failed', 'cancelled'));
				ALTER TABLE orders
				ADD CONSTRAINT check_order_status
				CHECK (status IN ('pending', 'processing', 'paid', 'expired', 'failed', 'cancelled'));

			-- amounts are fixed at creation and must stay inside the accepted range
				ALTER TABLE invoices
				ADD CONSTRAINT check_invoice_amount
				CHECK (amount >= 20 AND amount <= 100);

			-- a paid invoice always has its payment timestamp
				ALTER TABLE invoices
				ADD CONSTRAINT check_paid_at
				CHECK (status != 'paid' OR paid_at IS NOT NULL);

				ALTER TABLE orders
				ADD CONSTRAINT fk_orders_invoice
				FOREIGN KEY (invoice_id) REFERENCES invoices (id);
				ALTER TABLE payments
				ADD CONSTRAINT fk_payments_invoice
				FOREIGN KEY (invoice_id) REFERENCES invoices (id);
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, nil)
}
