package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rl1809/saleszy/internal/config"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/logging"
	"github.com/rl1809/saleszy/internal/port"
)

// seedFile is the fixture format read by `saleszy seed`.
type seedFile struct {
	Businesses []seedBusiness `json:"businesses"`
}

type seedBusiness struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	TimeZone  string        `json:"time_zone"`
	Suspended bool          `json:"suspended"`
	Products  []seedProduct `json:"products"`
}

type seedProduct struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	Stock             int             `json:"stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load businesses, products and opening stock from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorage()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "seed"})

		raw, err := os.ReadFile(seedPath)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		var data seedFile
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}

		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		return seed(cmd.Context(), s, data)
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "seed.json", "seed file path")
}

func seed(ctx context.Context, s store, data seedFile) error {
	for _, b := range data.Businesses {
		business := domain.Business{ID: b.ID, Name: b.Name, TimeZone: b.TimeZone, Suspended: b.Suspended}
		if _, err := business.Location(); err != nil {
			return fmt.Errorf("business %s: %w", b.ID, err)
		}
		if err := s.UpsertBusiness(ctx, business); err != nil {
			return fmt.Errorf("upsert business %s: %w", b.ID, err)
		}

		for _, p := range b.Products {
			if !p.UnitPrice.IsPositive() || p.CostPrice.IsNegative() {
				return fmt.Errorf("product %s: unit price must be > 0 and cost price >= 0", p.ID)
			}
			err := s.UpsertProduct(ctx, domain.Product{
				ID:         p.ID,
				BusinessID: b.ID,
				Name:       p.Name,
				Unit:       p.Unit,
				UnitPrice:  p.UnitPrice,
				CostPrice:  p.CostPrice,
			})
			if err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
			err = s.Atomic(ctx, func(tx port.Transaction) error {
				return tx.SetStock(ctx, domain.StockLevel{
					BusinessID:        b.ID,
					ProductID:         p.ID,
					Quantity:          p.Stock,
					LowStockThreshold: p.LowStockThreshold,
				})
			})
			if err != nil {
				return fmt.Errorf("set stock %s: %w", p.ID, err)
			}
		}
		log.Info().Str("business_id", b.ID).Int("products", len(b.Products)).Msg("business seeded")
	}
	return nil
}
