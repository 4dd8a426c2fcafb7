package memory

import (
	"vault_ledger/internal/repository"
)

var (
	_ repository.AssetRepository = (*AssetRepository)(nil)
	_ repository.VaultRepository = (*VaultRepository)(nil)
	_ repository.EventRepository = (*EventRepository)(nil)
)
