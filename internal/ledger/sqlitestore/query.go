package sqlitestore

var (
	querySchema = []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id       TEXT PRIMARY KEY,
			name     TEXT NOT NULL UNIQUE,
			number   TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL,
			kind     TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			date        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS entries (
			id             TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			account_id     TEXT NOT NULL REFERENCES accounts(id),
			seq            INTEGER NOT NULL,
			amount         INTEGER NOT NULL,
			date           TEXT NOT NULL,
			cleared_date   TEXT NOT NULL DEFAULT '',
			memo           TEXT NOT NULL DEFAULT '',
			payee          TEXT NOT NULL DEFAULT '',
			description    TEXT NOT NULL DEFAULT '',
			check_number   TEXT NOT NULL DEFAULT '',
			unique_id      TEXT NOT NULL DEFAULT '',
			ext            TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS entries_transaction ON entries(transaction_id);`,
	}

	queryAccountList = `SELECT id, name, number, currency, kind FROM accounts ORDER BY rowid;`

	queryAccountCreate = `INSERT INTO accounts (id, name, number, currency, kind) VALUES (?, ?, ?, ?, ?);`

	queryTransactionList = `SELECT id, date, description FROM transactions ORDER BY date, id;`

	queryEntryList = `SELECT id, transaction_id, account_id, amount, date, cleared_date,
		memo, payee, description, check_number, unique_id, ext
	FROM entries ORDER BY transaction_id, seq;`

	queryTransactionUpsert = `INSERT INTO transactions (id, date, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, description = excluded.description;`

	queryTransactionDelete = `DELETE FROM transactions WHERE id = ?;`

	queryEntryDeleteByTransaction = `DELETE FROM entries WHERE transaction_id = ?;`

	queryEntryCreate = `INSERT INTO entries (id, transaction_id, account_id, seq, amount, date, cleared_date,
		memo, payee, description, check_number, unique_id, ext)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)
