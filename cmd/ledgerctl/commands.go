package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"caisse/backend/internal/app"
	"caisse/backend/internal/domain"
	"caisse/backend/internal/httpapi"
	"caisse/backend/internal/ledger"
	"caisse/backend/internal/report"
	"caisse/backend/internal/service"
)

func (c *cli) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest invoices from JSON files (one object or an array per file)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					payloads, err := readPayloads(path)
					if err != nil {
						return err
					}
					for _, raw := range payloads {
						result, err := a.Service.Ingest(ctx, raw)
						if err != nil {
							return fmt.Errorf("%s: %w", path, err)
						}
						fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
							ingestOutcome(result), result.Invoice.InvoiceNumber, result.Invoice.VendorID, result.Invoice.TotalAmount)
					}
				}
				return nil
			})
		},
	}
}

func ingestOutcome(result service.IngestResult) string {
	switch {
	case result.Enqueued == 0:
		return result.Reason
	case result.Created:
		return "created"
	default:
		return "updated"
	}
}

func readPayloads(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: file is empty", path)
		}
		return nil, fmt.Errorf("%s: invalid JSON: %w", path, err)
	}

	switch v := payload.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		objects := make([]map[string]any, 0, len(v))
		for i, item := range v {
			object, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: element %d is not a JSON object", path, i)
			}
			objects = append(objects, object)
		}
		return objects, nil
	default:
		return nil, fmt.Errorf("%s: expected a JSON object or array", path)
	}
}

func (c *cli) totalsCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Print per-vendor revenue totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if vendorID != "" {
					total, err := a.Service.VendorRevenue(ctx, vendorID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%s\n", total.VendorID, total.Total)
					return nil
				}

				snapshot, err := a.Service.RevenueSnapshot(ctx, 0)
				if err != nil {
					return err
				}
				grand := decimal.Zero
				for _, total := range sortedTotals(snapshot.Totals) {
					fmt.Fprintf(out, "%s\t%s\n", total.VendorID, total.Total)
					grand = grand.Add(total.Total.Decimal())
				}
				fmt.Fprintf(out, "TOTAL\t%s\n", grand.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "only print this vendor id")
	return cmd
}

func sortedTotals(totals map[string]domain.Money) []domain.VendorTotal {
	result := make([]domain.VendorTotal, 0, len(totals))
	for vendorID, total := range totals {
		result = append(result, domain.VendorTotal{VendorID: vendorID, Total: total})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VendorID < result[j].VendorID })
	return result
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		outPath string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the revenue snapshot to a .csv or .xlsx file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ext := strings.ToLower(filepath.Ext(outPath))
			if ext != ".csv" && ext != ".xlsx" {
				return fmt.Errorf("--out must end in .csv or .xlsx")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				snapshot, err := a.Service.RevenueSnapshot(ctx, limit)
				if err != nil {
					return err
				}

				var buf bytes.Buffer
				if ext == ".csv" {
					err = report.WriteCSV(&buf, snapshot)
				} else {
					err = report.WriteXLSX(&buf, snapshot)
				}
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d vendors, %d recent invoices)\n", outPath, len(snapshot.Totals), len(snapshot.Recent))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "revenue.csv", "output file (.csv or .xlsx)")
	cmd.Flags().IntVar(&limit, "limit", ledger.DefaultRecentLimit, "recent invoices to include")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute vendor totals from stored invoices and repair drift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx = service.WithActor(ctx, domain.Actor{Subject: "ledgerctl", Role: domain.RoleAdmin})
				result, err := a.Service.Reconcile(ctx, dryRun)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(result)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without writing")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for /admin/reconcile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(c.cfg.AuthSecret) < 32 {
				return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
			}
			auth := httpapi.NewAuthManager(c.cfg.AuthSecret, time.Duration(c.cfg.AdminTokenTTLMinutes)*time.Minute, "")
			token, expiresAt, err := auth.IssueToken(subject, domain.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to ADMIN_TOKEN_TTL_MINUTES)")
	return cmd
}
