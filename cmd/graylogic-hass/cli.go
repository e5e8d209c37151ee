package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

// statesOptions holds flags for the states command.
type statesOptions struct {
	*rootOptions
	Domain string
}

func newStatesCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &statesOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "states [entity_id]",
		Short: "Print entity states from the hub",
		Long: `Print entity states fetched over the hub's REST API.

Examples:
  graylogic-hass states --domain light
  graylogic-hass states sun.sun`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rest := newRESTClient(cfg)

			if len(args) == 1 {
				if err := entity.ValidateID(args[0]); err != nil {
					return err
				}
				snap, err := rest.GetState(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("fetching %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), snap)
			}

			snaps, err := rest.GetStates(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching states: %w", err)
			}
			return printStates(cmd.OutOrStdout(), snaps, opts.Domain)
		},
	}

	cmd.Flags().StringVar(&opts.Domain, "domain", "", "only entities of this domain")
	return cmd
}

// callOptions holds flags for the call command.
type callOptions struct {
	*rootOptions
	Data string
}

func newCallCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &callOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <domain.service> [entity_id]",
		Short: "Call a hub service",
		Long: `Call a hub service over the REST API.

When the database is enabled the call is written to the service call log.

Example:
  graylogic-hass call light.turn_on light.porch --data '{"brightness":120}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, service, ok := strings.Cut(args[0], ".")
			if !ok || domain == "" || service == "" {
				return fmt.Errorf("invalid service %q: want domain.service", args[0])
			}
			entityID := ""
			if len(args) == 2 {
				entityID = args[1]
				if err := entity.ValidateID(entityID); err != nil {
					return err
				}
			}
			var data map[string]any
			if err := json.Unmarshal([]byte(opts.Data), &data); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			start := time.Now()
			changed, callErr := newRESTClient(cfg).CallService(cmd.Context(), domain, service, entityID, data)
			if recErr := recordCLICall(cmd.Context(), cfg, hass.CallRecord{
				Domain:   domain,
				Service:  service,
				EntityID: entityID,
				Origin:   hass.OriginCLI,
				Err:      callErr,
				Duration: time.Since(start),
				At:       start,
			}); recErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", recErr)
			}
			if callErr != nil {
				return fmt.Errorf("calling %s: %w", args[0], callErr)
			}
			return printJSON(cmd.OutOrStdout(), changed)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "{}", "service data as a JSON object")
	return cmd
}

func newRESTClient(cfg *config.Config) *hass.RESTClient {
	return hass.NewRESTClient(cfg.Hub.Host, cfg.Hub.Port, cfg.Hub.Secure, cfg.Hub.AccessToken, cfg.GetRequestTimeout())
}

// recordCLICall writes rec to the service call log when the database is enabled.
func recordCLICall(ctx context.Context, cfg *config.Config, rec hass.CallRecord) error {
	if !cfg.Database.Enabled {
		return nil
	}
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	r := relay.New(relay.Options{Calls: audit.NewSQLiteRepository(db.DB)})
	r.RecordCall(rec)
	if r.Stats().CallsRecorded == 0 {
		return fmt.Errorf("service call was not recorded")
	}
	return nil
}

func printStates(w io.Writer, snaps []map[string]any, domain string) error {
	rows := make([][2]string, 0, len(snaps))
	for _, snap := range snaps {
		id := entity.SnapshotID(snap)
		if id == "" || (domain != "" && entity.Domain(id) != domain) {
			continue
		}
		rows = append(rows, [2]string{id, fmt.Sprint(snap["state"])})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%-40s %s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
