package matcher

var (
	// txTable stores every observed transfer; it is the audit trail and
	// rows are never deleted. (chainId, hash) dedupes redelivery.
	txTable = `CREATE TABLE IF NOT EXISTS tx (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chainId BIGINT NOT NULL,
		hash VARCHAR(80) NOT NULL,
		fromAddr VARCHAR(80) NOT NULL,
		toAddr VARCHAR(80) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		tokenAddr VARCHAR(80),
		value TEXT NOT NULL,
		nonce BIGINT NOT NULL DEFAULT 0,
		timestamp BIGINT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		side INTEGER NOT NULL DEFAULT 0,
		memo VARCHAR(40),
		replySender VARCHAR(80),
		replyAccount VARCHAR(80),
		routeId VARCHAR(64),
		makerId VARCHAR(64),
		ebcId BIGINT NOT NULL DEFAULT 0,
		expectValue TEXT,
		deadline BIGINT NOT NULL DEFAULT 0,
		extra TEXT,
		CONSTRAINT uniq_chain_hash UNIQUE (chainId, hash),
		CONSTRAINT chk_status CHECK (status IN (0, 1, 2, 3, 4, 5, 98, 99)),
		CONSTRAINT chk_side CHECK (side IN (0, 1))
	);
	CREATE INDEX IF NOT EXISTS idx_tx_candidate ON tx (chainId, status, timestamp);
	CREATE INDEX IF NOT EXISTS idx_tx_reply ON tx (replySender, replyAccount, status);`

	// makerTxTable links one deposit to its settling reply. transferId
	// is derived deterministically from the deposit, so redelivered
	// matching attempts upsert the same row.
	makerTxTable = `CREATE TABLE IF NOT EXISTS maker_transaction (
		transferId CHAR(64) PRIMARY KEY NOT NULL,
		inId INTEGER,
		outId INTEGER,
		fromChain BIGINT NOT NULL,
		toChain BIGINT NOT NULL,
		toAmount TEXT,
		replySender VARCHAR(80),
		replyAccount VARCHAR(80),
		CONSTRAINT chk_transferId CHECK (length(transferId) = 64)
	);
	CREATE INDEX IF NOT EXISTS idx_mt_in ON maker_transaction (inId);
	CREATE INDEX IF NOT EXISTS idx_mt_out ON maker_transaction (outId);`

	txColumns = ` id, chainId, hash, fromAddr, toAddr, symbol, tokenAddr, value,
		nonce, timestamp, status, side, memo, replySender, replyAccount,
		routeId, makerId, ebcId, expectValue, deadline, extra `
)
