package store

// Schema is the DDL the operator applies (via whatever migration tool the
// deployment uses) before PostgresStore.Open is called. It is kept here as
// the single source of truth for the shapes scanOperation/scanEarmark
// assume, rather than scattered across a separate migrations directory.
const Schema = `
CREATE TABLE IF NOT EXISTS earmarks (
	id                         uuid PRIMARY KEY,
	invoice_id                 text NOT NULL,
	designated_purchase_chain  integer NOT NULL,
	ticker_hash                text NOT NULL,
	min_amount                 numeric(78,0) NOT NULL,
	status                     text NOT NULL CHECK (status IN ('initiating','pending','ready','completed','cancelled','failed','expired')),
	created_at                 timestamptz NOT NULL DEFAULT now(),
	updated_at                 timestamptz NOT NULL DEFAULT now()
);

-- Only one non-terminal earmark may exist per invoice at a time (§6).
CREATE UNIQUE INDEX IF NOT EXISTS earmarks_active_invoice_idx
	ON earmarks (invoice_id)
	WHERE status IN ('initiating','pending','ready');

CREATE TABLE IF NOT EXISTS rebalance_operations (
	id                    uuid PRIMARY KEY,
	earmark_id            uuid REFERENCES earmarks(id) ON DELETE CASCADE,
	origin_chain_id       integer NOT NULL,
	destination_chain_id  integer NOT NULL,
	ticker_hash           text NOT NULL,
	amount                numeric(78,0) NOT NULL,
	slippage              bigint NOT NULL,
	bridge                text NOT NULL,
	tx_hashes             jsonb NOT NULL DEFAULT '{}'::jsonb,
	status                text NOT NULL CHECK (status IN ('pending','awaiting_callback','completed','expired','cancelled')),
	is_orphaned           boolean NOT NULL DEFAULT false,
	created_at            timestamptz NOT NULL DEFAULT now(),
	updated_at            timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS rebalance_operations_earmark_idx ON rebalance_operations (earmark_id);
CREATE INDEX IF NOT EXISTS rebalance_operations_status_idx ON rebalance_operations (status);

CREATE TABLE IF NOT EXISTS earmark_audit_log (
	id               bigserial PRIMARY KEY,
	earmark_id       uuid REFERENCES earmarks(id) ON DELETE CASCADE,
	operation        text NOT NULL,
	previous_status  text NOT NULL DEFAULT '',
	new_status       text NOT NULL DEFAULT '',
	details          jsonb,
	"timestamp"      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS earmark_audit_log_earmark_idx ON earmark_audit_log (earmark_id);

CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN
	NEW.updated_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS earmarks_set_updated_at ON earmarks;
CREATE TRIGGER earmarks_set_updated_at
	BEFORE UPDATE ON earmarks
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS rebalance_operations_set_updated_at ON rebalance_operations;
CREATE TRIGGER rebalance_operations_set_updated_at
	BEFORE UPDATE ON rebalance_operations
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`
