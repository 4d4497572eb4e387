package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aphdex/config"
	"aphdex/core/types"
	"aphdex/native/exchange"
	"aphdex/native/token"
	"aphdex/recon"
)

// withApp opens the exchange for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) (err error) {
	a, err := openApp(cmd.Context(), opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(cmd.Context()); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file with fresh contract and owner addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The root pre-run already created the file when it was missing.
			params, err := opts.cfg.Params()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:    %s\n", opts.configPath)
			fmt.Fprintf(out, "contract:  %s\n", params.Contract)
			fmt.Fprintf(out, "owner:     %s\n", params.DefaultOwner)
			fmt.Fprintf(out, "reference: %s\n", params.ReferenceAsset)
			fmt.Fprintf(out, "storage:   %s %s\n", opts.cfg.Storage.Backend, opts.cfg.Storage.Path)
			return nil
		},
	}
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted sequence of invocations and check its expectations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				report, err := Replay(cmd.Context(), a.dispatcher, sc)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STEP\tOPERATION\tRESULT\tDETAIL")
				for _, step := range report.Steps {
					res := step.Result
					status, detail := "ok", ""
					if !res.Success {
						status, detail = "failed", res.Reason()
					}
					if res.Value != nil && res.Success {
						detail = res.Value.String()
					}
					if step.Mismatch != "" {
						status, detail = "MISMATCH", step.Mismatch
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", step.Name, res.Operation, status, detail)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if !report.OK() {
					return fmt.Errorf("replay %s: %d expectation(s) failed:\n  %s",
						sc.Name, len(report.Failures), strings.Join(report.Failures, "\n  "))
				}
				return nil
			})
		},
	}
}

func newBalanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <asset> <address>",
		Short: "Show an address's available balance and pending withdrawal of an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset, err := types.ParseAssetHex(args[0])
			if err != nil {
				return err
			}
			user, err := types.ParseAddress(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				return a.dispatcher.View(func(e *exchange.Engine, _ *token.Registry) error {
					balance, err := e.Balance(asset, user)
					if err != nil {
						return err
					}
					withdrawing, marked, err := e.Withdrawing(user, asset)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "balance:     %s\n", balance)
					if marked {
						fmt.Fprintf(out, "withdrawing: %s\n", withdrawing)
					}
					return nil
				})
			})
		},
	}
}

func newContributionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contribution <address>",
		Short: "Show an address's fee pool contribution and claimable fees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := types.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				return a.dispatcher.View(func(e *exchange.Engine, _ *token.Registry) error {
					c, ok, err := e.ContributionOf(user)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if !ok {
						fmt.Fprintln(out, "no contribution")
						return nil
					}
					claimable, err := e.AvailableToClaim(user)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "contributed:     %s\n", c.UnitsContributed)
					fmt.Fprintf(out, "since height:    %d\n", c.ContributionHeight)
					fmt.Fprintf(out, "compounded at:   %d\n", c.CompoundHeight)
					fmt.Fprintf(out, "available claim: %s\n", claimable)
					return nil
				})
			})
		},
	}
}

func newOfferCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "offer <offer-id>",
		Short: "Show a standing offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("offer id must be 32 bytes of hex")
			}
			var id [32]byte
			copy(id[:], raw)
			return withApp(cmd, opts, func(a *app) error {
				return a.dispatcher.View(func(e *exchange.Engine, _ *token.Registry) error {
					offer, ok, err := e.Offer(id)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("offer %x not found", id)
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "creator: %s\n", offer.Creator)
					fmt.Fprintf(out, "buy:     %s %s\n", offer.QuantityToBuy, offer.AssetToBuy)
					fmt.Fprintf(out, "sell:    %s %s\n", offer.QuantityToSell, offer.AssetToSell)
					fmt.Fprintf(out, "nonce:   %s\n", offer.Nonce)
					return nil
				})
			})
		},
	}
}

func newReconCommand(opts *rootOptions) *cobra.Command {
	var (
		outputDir string
		assets    []string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "recon",
		Short: "Compare tracked totals with custody and write CSV and Parquet reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				selected, err := reconAssets(a, assets)
				if err != nil {
					return err
				}
				if outputDir == "" {
					outputDir = filepath.Join(config.DefaultDataDir, "recon")
				}
				r, err := recon.NewReconciler(recon.Config{
					Source:    a.dispatcher,
					OutputDir: outputDir,
					DryRun:    dryRun,
					Logger:    a.logger,
				})
				if err != nil {
					return err
				}
				res, err := r.Run(cmd.Context(), recon.RunOptions{Assets: selected})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ASSET\tTRACKED\tCUSTODY\tORPHANED\tSTATUS")
				for _, row := range res.Rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Asset, row.Tracked, orDash(row.Custody), orDash(row.Orphaned), row.Status)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&outputDir, "out", "", "report directory (default ./aphdex-data/recon)")
	cmd.Flags().StringSliceVar(&assets, "asset", nil, "asset ids to reconcile (default: reference asset, configured tokens, NEO and GAS)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report without writing files")
	return cmd
}

func reconAssets(a *app, raw []string) ([]types.AssetRef, error) {
	if len(raw) == 0 {
		params := a.dispatcher.Params()
		out := make([]types.AssetRef, 0, len(a.tokens)+2)
		for _, handle := range a.tokens {
			out = append(out, types.ExternalAsset(handle))
		}
		return append(out, params.NEO, params.GAS), nil
	}
	out := make([]types.AssetRef, 0, len(raw))
	for _, s := range raw {
		asset, err := types.ParseAssetHex(s)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}

func orDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}

func newDigestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print the commitment over the exchange's stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				digest, err := a.dispatcher.Digest()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(digest[:]))
				return nil
			})
		},
	}
}
