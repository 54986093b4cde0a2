package stats

import "errors"

var (
	ErrDBPathRequired = errors.New("stats database path is required")
	ErrOpenDB         = errors.New("failed to open stats database")
	ErrConfigureDB    = errors.New("failed to configure stats database")
	ErrMigrateDB      = errors.New("failed to migrate stats database")
	ErrInsertRecord   = errors.New("failed to insert accept record")
	ErrQueryRecords   = errors.New("failed to query accept records")
)
