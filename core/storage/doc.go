// Package storage provides the object storage client used by transaction
// ledger archival.
//
// It wraps the Minio SDK behind a narrow Client interface so the archiver
// can be unit tested against a mock. The transport carries strict timeouts;
// an unreachable endpoint must fail an archive run, never wedge it.
package storage
