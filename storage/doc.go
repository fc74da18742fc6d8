// Package storage provides a content-addressed archive with pluggable backends.
//
// Content is identified by the SHA-256 hash of its bytes and kept in one
// namespace per content type: signed firmware releases, provisioning records
// and sealed signing key backups.
//
// # Storage URI Format
//
// Backends are selected by URI:
//
//	file:///var/lib/espsecure-prov/
//	s3://ACCESS:SECRET@bucket/prefix?region=eu-west-1&endpoint=minio.local:9000&path_style=true
//	ipfs://127.0.0.1:5001/espsecure-prov?timeout=30s
//	vault://vault.example.com:8200/secret/factory?token=...
//
// A Vault location without a token parameter uses VAULT_TOKEN.
//
// # Redundancy
//
// MultiStorageBackend stores to every available backend and fetches from the
// first backend holding content whose hash matches the requested id.
//
// Usage:
//
//	factory := storage.NewStorageBackendFactory(log)
//	archive, err := factory.CreateMultiBackend(station.Storage)
//	id, err := archive.Store(ctx, recordJSON, interfaces.RecordType)
package storage
