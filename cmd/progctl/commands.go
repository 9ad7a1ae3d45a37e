package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/ProgramUpload/internal/core"
	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

type (
	serviceOpener func(ctx context.Context) (*core.Service, func(), error)
	poolOpener    func(ctx context.Context) (*pgxpool.Pool, error)
)

type rootOptions struct {
	conference string
	openSvc    serviceOpener
	openPool   poolOpener
}

func newRootCmd(openSvc serviceOpener, openPool poolOpener) *cobra.Command {
	opts := &rootOptions{openSvc: openSvc, openPool: openPool}

	cmd := &cobra.Command{
		Use:          "progctl",
		Short:        "Upload and reconcile conference programs",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.conference, "conference", "c", "", "Conference ID")

	cmd.AddCommand(
		newUploadCmd(opts, false),
		newUploadCmd(opts, true),
		newRoomsCmd(opts),
		newAuthorsCmd(opts),
		newHistoryCmd(opts),
		newFormatsCmd(),
		newMigrateCmd(opts),
	)
	return cmd
}

// withService opens the service for one command run and tags the context
// so upload history shows the CLI as the client.
func (o *rootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) error {
	if strings.TrimSpace(o.conference) == "" {
		return fmt.Errorf("--conference is required")
	}
	ctx := core.WithClient(cmd.Context(), core.Client{IP: "local", UserAgent: "progctl"})
	svc, closeFn, err := o.openSvc(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func newUploadCmd(root *rootOptions, preview bool) *cobra.Command {
	var format, timezone string

	use, short := "upload FILE", "Upload a program file"
	if preview {
		use, short = "preview FILE", "Show what uploading a program file would change"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return root.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				req := ingest.Request{
					Content:      content,
					ConferenceID: root.conference,
					Timezone:     timezone,
					Format:       format,
				}
				run := svc.UploadProgram
				if preview {
					run = svc.PreviewProgram
				}
				res, err := run(ctx, req)
				if err != nil {
					return userError(err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format: "+strings.Join(ingest.FormatTags(), ", "))
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA zone for local times (default from configuration)")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func newRoomsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms FILE",
		Short: "Apply a room stream settings table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return root.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.UploadRoomStreams(ctx, root.conference, content)
				if err != nil {
					return userError(err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newAuthorsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "authors ITEM_ID [PERSON_ID...]",
		Short: "Replace the authors of a program item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			personIDs := make([]uuid.UUID, 0, len(args)-1)
			for _, a := range args[1:] {
				id, err := uuid.Parse(a)
				if err != nil {
					return fmt.Errorf("invalid person id %q: %w", a, err)
				}
				personIDs = append(personIDs, id)
			}
			return root.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				item, err := svc.ReassignAuthors(ctx, root.conference, itemID, personIDs)
				if err != nil {
					return userError(err)
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads of a conference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				records, err := svc.History(ctx, root.conference, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, r := range records {
					line := fmt.Sprintf("%s  %-20s %-7s dry_run=%t  %dms",
						r.StartedAt.Format("2006-01-02 15:04:05"), r.Format, r.Status, r.DryRun, r.Duration.Milliseconds())
					if r.Error != "" {
						line += "  " + r.Error
					}
					fmt.Fprintln(w, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", core.DefaultHistoryLimit, "Maximum entries to show")
	return cmd
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List accepted upload formats",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, f := range ingest.FormatTags() {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
		},
	}
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := root.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := store.Migrate(pool); err != nil {
				return err
			}
			version, _, err := store.MigrationVersion(pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := root.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			version, dirty, err := store.MigrationVersion(pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
			return nil
		},
	})
	return cmd
}

// userError keeps err inspectable and appends the mapped user message when
// there is a specific one.
func userError(err error) error {
	if !core.IsUserFacing(err) {
		return err
	}
	return fmt.Errorf("%w\n%s", err, core.FormatUserError(err))
}
