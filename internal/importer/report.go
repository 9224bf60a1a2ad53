package importer

import "time"

// Report summarizes the import of one file.
type Report struct {
	File      string    `json:"file"`
	Format    string    `json:"format"`
	StartedAt time.Time `json:"startedAt"`
	DryRun    bool      `json:"dryRun"`
	Committed bool      `json:"committed"`

	// Rows is the number of table rows or statement entries read.
	Rows int `json:"rows"`

	// Statement path.
	Posted    int `json:"posted"`
	Merged    int `json:"merged"`
	Skipped   int `json:"skipped"`
	Memorized int `json:"memorized,omitempty"`
	// Fingerprinted counts entries without a source id that were given a
	// content fingerprint.
	Fingerprinted int `json:"fingerprinted,omitempty"`

	// Tabular path.
	GroupsBuilt    int      `json:"groupsBuilt"`
	GroupsRejected int      `json:"groupsRejected"`
	RowsDropped    int      `json:"rowsDropped"`
	Rejected       []string `json:"rejected,omitempty"`

	TransactionsWritten int      `json:"transactionsWritten"`
	TransactionsDeleted int      `json:"transactionsDeleted"`
	AccountsCreated     []string `json:"accountsCreated,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// Changed reports whether the import wrote anything.
func (r *Report) Changed() bool {
	return r.TransactionsWritten > 0 || r.TransactionsDeleted > 0 || len(r.AccountsCreated) > 0
}
