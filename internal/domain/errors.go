package domain

import "errors"

var (
	// ErrInvalidAmount rejects a quantity that is not a finite number greater than zero.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPrice rejects a negative unit price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrPriceFetchFailed marks a per-asset price lookup that fell back to the last known price.
	ErrPriceFetchFailed = errors.New("price fetch failed")

	// ErrStoreRead indicates the persisted ledger could not be read or parsed.
	ErrStoreRead = errors.New("store read failed")

	// ErrStoreWrite indicates a mutation was applied in memory but not persisted.
	ErrStoreWrite = errors.New("store write failed")

	// ErrAssetNotFound indicates the price source does not know the asset.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrNoHistory indicates the price source returned an empty series.
	ErrNoHistory = errors.New("no history available")
)
