package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/notifiers"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

var errMissingCode = errors.New("missing pairing code (pass it as an argument or run in a terminal to pick one)")

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "List and approve pending pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	var (
		provider string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pairing.ParseProvider(provider)
			if err != nil {
				return err
			}
			return withPairingService(cmd.Context(), func(_ *config.Config, svc *pairing.Service) error {
				return listPairing(cmd.Context(), cmd.OutOrStdout(), svc, p, asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider: "+strings.Join(pairing.Providers, ", "))
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	var (
		provider string
		notify   bool
	)
	cmd := &cobra.Command{
		Use:   "approve [code]",
		Short: "Approve a pairing code and allow its sender",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pairing.ParseProvider(provider)
			if err != nil {
				return err
			}
			return withPairingService(cmd.Context(), func(cfg *config.Config, svc *pairing.Service) error {
				code := ""
				if len(args) == 1 {
					code = args[0]
				} else {
					code, err = pickPairingCode(cmd.Context(), svc, p)
					if err != nil {
						return err
					}
				}
				var factory notifierFactory
				if notify {
					factory = func(provider string) (channels.Notifier, error) {
						return notifiers.New(provider, cfg, slog.Default())
					}
				}
				return approvePairing(cmd.Context(), cmd.OutOrStdout(), svc, p, code, factory)
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider: "+strings.Join(pairing.Providers, ", "))
	cmd.Flags().BoolVar(&notify, "notify", false, "tell the requester they were approved")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func withPairingService(ctx context.Context, fn func(*config.Config, *pairing.Service) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(cfg, pairing.NewService(stores.Pairing))
}

type pairingListing struct {
	Provider string                 `json:"provider"`
	Requests []store.PairingRequest `json:"requests"`
}

func listPairing(ctx context.Context, out io.Writer, svc *pairing.Service, provider string, asJSON bool) error {
	reqs, err := svc.List(ctx, provider)
	if err != nil {
		return err
	}
	if asJSON {
		if reqs == nil {
			reqs = []store.PairingRequest{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(pairingListing{Provider: provider, Requests: reqs})
	}
	if len(reqs) == 0 {
		fmt.Fprintf(out, "No pending %s pairing requests.\n", provider)
		return nil
	}

	label := pairing.IDLabel(provider)
	idCols := make([]string, len(reqs))
	width := 0
	for i, r := range reqs {
		idCols[i] = label + "=" + r.ID
		if w := runewidth.StringWidth(idCols[i]); w > width {
			width = w
		}
	}
	for i, r := range reqs {
		meta := "{}"
		if len(r.Meta) > 0 {
			if b, err := json.Marshal(r.Meta); err == nil {
				meta = string(b)
			}
		}
		fmt.Fprintf(out, "%s  %s  meta=%s  %s\n",
			r.Code, runewidth.FillRight(idCols[i], width), meta, r.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

type notifierFactory func(provider string) (channels.Notifier, error)

// approvePairing commits the approval first; notification failures are
// reported and never undo it.
func approvePairing(ctx context.Context, out io.Writer, svc *pairing.Service, provider, code string, notify notifierFactory) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errMissingCode
	}
	req, err := svc.Approve(ctx, provider, code)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("No pending pairing request found for code: %s", strings.ToUpper(code))
	}
	fmt.Fprintf(out, "Approved %s sender %s.\n", provider, req.ID)

	if notify == nil {
		return nil
	}
	n, err := notify(provider)
	if err == nil {
		err = n.NotifyApproved(ctx, req.ID, pairing.ApprovedMessage)
	}
	if err != nil {
		fmt.Fprintf(out, "Failed to notify requester: %v\n", err)
	}
	return nil
}

// pickPairingCode offers the pending codes in a picker when stdin is a
// terminal.
func pickPairingCode(ctx context.Context, svc *pairing.Service, provider string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errMissingCode
	}
	reqs, err := svc.List(ctx, provider)
	if err != nil {
		return "", err
	}
	if len(reqs) == 0 {
		return "", fmt.Errorf("no pending %s pairing requests", provider)
	}

	options := make([]huh.Option[string], 0, len(reqs))
	for _, r := range reqs {
		options = append(options, huh.NewOption(fmt.Sprintf("%s  %s=%s", r.Code, pairing.IDLabel(provider), r.ID), r.Code))
	}
	var code string
	err = huh.NewSelect[string]().
		Title("Approve which " + provider + " pairing request?").
		Options(options...).
		Value(&code).
		Run()
	if err != nil {
		return "", fmt.Errorf("pick pairing code: %w", err)
	}
	return code, nil
}
