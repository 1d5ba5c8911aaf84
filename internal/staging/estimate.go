package staging

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config carries the fee schedule and energy pricing. The creation and
// sponsorship fees must mirror the on-chain contract's current schedule,
// which is why they are injected at startup rather than hardcoded.
type Config struct {
	StageTTL time.Duration

	CreationFeeTRX    decimal.Decimal
	SponsorshipFeeTRX decimal.Decimal

	BaseEnergy      int64
	DocumentEnergy  int64
	RecipientEnergy int64

	BurnRatePerEnergyTRX   decimal.Decimal
	RentalRatePerEnergyTRX decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		StageTTL:               30 * time.Minute,
		CreationFeeTRX:         decimal.NewFromInt(20),
		SponsorshipFeeTRX:      decimal.NewFromInt(2),
		BaseEnergy:             65_000,
		DocumentEnergy:         245_000,
		RecipientEnergy:        65_000,
		BurnRatePerEnergyTRX:   decimal.RequireFromString("0.00042"),
		RentalRatePerEnergyTRX: decimal.RequireFromString("0.000084"),
	}
}

// TotalFee computes creation + optional per-recipient sponsorship. Callers
// may override either fee per request; nil keeps the configured default.
func (c Config) TotalFee(recipients int, sponsorFees bool, creationOverride, sponsorshipOverride *decimal.Decimal) decimal.Decimal {
	creation := c.CreationFeeTRX
	if creationOverride != nil {
		creation = *creationOverride
	}
	if !sponsorFees {
		return creation
	}
	sponsorship := c.SponsorshipFeeTRX
	if sponsorshipOverride != nil {
		sponsorship = *sponsorshipOverride
	}
	return creation.Add(sponsorship.Mul(decimal.NewFromInt(int64(recipients))))
}

// Estimate prices the transaction's energy once, at stage time. Execute
// trusts this estimate and only records actual energy_used after the fact.
func (c Config) Estimate(recipients int, hasDocument bool) StagedEnergyEstimate {
	energy := c.BaseEnergy
	if hasDocument {
		energy += c.DocumentEnergy
	}
	if recipients > 1 {
		energy += c.RecipientEnergy * int64(recipients-1)
	}
	d := decimal.NewFromInt(energy)
	burn := c.BurnRatePerEnergyTRX.Mul(d)
	rental := c.RentalRatePerEnergyTRX.Mul(d)
	return StagedEnergyEstimate{
		EstimatedEnergy: energy,
		BurningCostTRX:  burn,
		RentalCostTRX:   rental,
		SavingsTRX:      burn.Sub(rental),
	}
}
