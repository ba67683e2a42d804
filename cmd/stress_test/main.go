package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/saleszy/internal/adapter/handler"
	"github.com/rl1809/saleszy/internal/adapter/storage"
	"github.com/rl1809/saleszy/internal/config"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
	"github.com/rl1809/saleszy/internal/logging"
)

// seller is one way of driving sales: in-process against the configured
// store, or remotely through the gRPC service.
type seller interface {
	setStock(ctx context.Context, quantity int) error
	sell(ctx context.Context, quantity int) error
	stock(ctx context.Context) (int, error)
}

var opts struct {
	grpcAddr   string
	businessID string
	productID  string
	stock      int
	requests   int
	quantity   int
}

var rootCmd = &cobra.Command{
	Use:   "stress_test",
	Short: "Fire concurrent sales at one product and check stock never oversells",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "console", Level: "warn", Component: "stress"})
		ctx := cmd.Context()

		var s seller
		var err error
		if opts.grpcAddr != "" {
			s, err = newRemoteSeller(opts.grpcAddr, opts.businessID, opts.productID)
		} else {
			s, err = newLocalSeller(ctx)
		}
		if err != nil {
			return err
		}
		return run(ctx, s)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.grpcAddr, "grpc", "", "gRPC address of a running server; empty runs in-process against SALESZY_STORAGE")
	f.StringVar(&opts.businessID, "business", "", "business id (required with --grpc)")
	f.StringVar(&opts.productID, "product", "", "product id (required with --grpc)")
	f.IntVar(&opts.stock, "stock", 20, "opening stock")
	f.IntVar(&opts.requests, "requests", 50, "concurrent sale requests")
	f.IntVar(&opts.quantity, "quantity", 1, "units per sale")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s seller) error {
	if opts.quantity < 1 || opts.requests < 1 || opts.stock < 0 {
		return errors.New("--quantity and --requests must be positive and --stock non-negative")
	}
	if err := s.setStock(ctx, opts.stock); err != nil {
		return fmt.Errorf("set opening stock: %w", err)
	}

	var successCount, soldOutCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.sell(ctx, opts.quantity)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Error().Err(err).Msg("sale failed")
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	finalStock, err := s.stock(ctx)
	if err != nil {
		return fmt.Errorf("read final stock: %w", err)
	}

	success := int(successCount.Load())
	expected := min(opts.requests, opts.stock/opts.quantity)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Opening Stock:    %d\n", opts.stock)
	fmt.Printf("Total Requests:   %d x %d units\n", opts.requests, opts.quantity)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if finalStock != opts.stock-success*opts.quantity || finalStock < 0 {
		return fmt.Errorf("stock invariant broken: opening %d, sold %d x %d, final %d", opts.stock, success, opts.quantity, finalStock)
	}
	if errorCount.Load() == 0 && success != expected {
		return fmt.Errorf("expected %d successful sales, got %d", expected, success)
	}
	fmt.Println("PASS: stock never oversold")
	return nil
}

type localSeller struct {
	core       *service.Core
	businessID string
	productID  string
}

// newLocalSeller creates a throwaway business and product in the configured
// store so runs never disturb real data.
func newLocalSeller(ctx context.Context) (*localSeller, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, err
	}

	var st service.Store
	var upsert interface {
		UpsertBusiness(context.Context, domain.Business) error
		UpsertProduct(context.Context, domain.Product) error
	}
	switch cfg.Storage {
	case config.StorageMySQL:
		m, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		if err := m.Migrate(ctx); err != nil {
			return nil, err
		}
		st, upsert = m, m
	default:
		s, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, upsert = s, s
	}

	suffix := uuid.NewString()[:8]
	l := &localSeller{businessID: "stress-biz-" + suffix, productID: "stress-item-" + suffix}
	if err := upsert.UpsertBusiness(ctx, domain.Business{ID: l.businessID, Name: "Stress " + suffix}); err != nil {
		return nil, err
	}
	err = upsert.UpsertProduct(ctx, domain.Product{
		ID:         l.productID,
		BusinessID: l.businessID,
		Name:       "Stress item",
		UnitPrice:  decimal.NewFromInt(100),
		CostPrice:  decimal.NewFromInt(60),
	})
	if err != nil {
		return nil, err
	}
	l.core = service.New(st, nil, service.Config{
		Retry: service.RetryPolicy{Attempts: cfg.RetryAttempts, Initial: cfg.RetryBackoff},
	})
	return l, nil
}

func (l *localSeller) setStock(ctx context.Context, quantity int) error {
	return l.core.Ledger.Set(ctx, l.businessID, l.productID, quantity, 0)
}

func (l *localSeller) sell(ctx context.Context, quantity int) error {
	_, err := l.core.RecordSale(ctx, l.businessID, l.productID, quantity)
	return err
}

func (l *localSeller) stock(ctx context.Context) (int, error) {
	return l.core.GetStockLevel(ctx, l.businessID, l.productID)
}

type remoteSeller struct {
	client     *handler.CoreClient
	businessID string
	productID  string
}

func newRemoteSeller(addr, businessID, productID string) (*remoteSeller, error) {
	if businessID == "" || productID == "" {
		return nil, errors.New("--business and --product are required with --grpc")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &remoteSeller{client: handler.NewCoreClient(conn), businessID: businessID, productID: productID}, nil
}

func (r *remoteSeller) setStock(ctx context.Context, quantity int) error {
	_, err := r.client.SetStock(ctx, r.businessID, &handler.SetStockRequest{ProductID: r.productID, Quantity: quantity})
	return err
}

func (r *remoteSeller) sell(ctx context.Context, quantity int) error {
	_, err := r.client.RecordSale(ctx, r.businessID, &handler.RecordSaleRequest{
		ProductID: r.productID,
		Quantity:  quantity,
		RequestID: uuid.NewString(),
	})
	return err
}

func (r *remoteSeller) stock(ctx context.Context) (int, error) {
	lvl, err := r.client.GetStockLevel(ctx, r.businessID, r.productID)
	if err != nil {
		return 0, err
	}
	return lvl.Quantity, nil
}
