package market

import "context"

// SeedDefaults lists the starting universe for a fresh season. No-op
// when the season already has companies.
func (s *Store) SeedDefaults(ctx context.Context, seasonID int64) error {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM market.companies WHERE season_id = $1`, seasonID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []struct {
		Ticker string
		Name   string
		Sector string
		Price  int64 // points
		Cap    int64 // points
	}{
		{"HELIOS", "Helios Grid", SectorEnergy, 96, 4_800_000},
		{"VOLTIC", "Voltic Storage", SectorEnergy, 74, 2_100_000},
		{"NEURAL", "Neural Foundry", SectorTech, 168, 9_600_000},
		{"QUBITS", "Qubits Compute", SectorTech, 133, 7_200_000},
		{"SIGNAL", "Signal Mesh", SectorTech, 88, 3_500_000},
		{"LEDGER", "Ledger Mutual", SectorFinance, 142, 8_400_000},
		{"ESCROW", "Escrow Trust", SectorFinance, 105, 5_200_000},
		{"VITALS", "Vitals Bio", SectorHealth, 118, 6_000_000},
		{"SERUMX", "Serumx Labs", SectorHealth, 92, 3_100_000},
		{"FORGED", "Forged Alloys", SectorIndustry, 81, 2_800_000},
		{"GIRDER", "Girder Works", SectorIndustry, 69, 1_900_000},
		{"PANTRY", "Pantry Chain", SectorConsumer, 57, 2_400_000},
		{"VELVET", "Velvet Retail", SectorConsumer, 112, 4_100_000},
		{"ORBITA", "Orbita Launch", SectorSpace, 184, 10_500_000},
		{"KUIPER", "Kuiper Mining", SectorSpace, 147, 6_800_000},
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range seed {
		price := row.Price * MicrosPerPoint
		_, err := tx.Exec(ctx, `
			INSERT INTO market.companies
			    (season_id, ticker, display_name, sector, current_price_micros, last_close_micros, market_cap_micros, delisted)
			VALUES ($1, $2, $3, $4, $5, $5, $6, false)
		`, seasonID, row.Ticker, row.Name, row.Sector, price, row.Cap*MicrosPerPoint)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
