package cli

import (
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/licrm/internal/drain"
	"github.com/Dicklesworthstone/licrm/internal/output"
)

func newScanCmd() *cobra.Command {
	var (
		src       sourceFlags
		sessionID string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "scan [ids...]",
		Short: "List the license ids a run would remove",
		Long: `Collect license ids the same way run does and print them without
removing anything. Ids are printed in collection order; run removes
them last first.`,
		Example: `  licrm scan --page licenses.html
  licrm scan --fetch --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			cred := drain.Credential(sessionID)
			if cred == "" {
				cred = drain.Credential(cfg.Steam.SessionID)
			}

			var fetcher pageFetcher
			if src.fetch {
				fetcher = newSteamClient(cfg.SteamClientConfig())
			}
			ids, err := collectIDs(cmd.Context(), args, src, fetcher, cred)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}

			return formatter(cmd, f).Output(output.ScanResponse{
				TimestampedResponse: output.NewTimestamped(),
				Source:              src.describe(args),
				IDs:                 ids,
				Count:               len(ids),
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&src.idsFile, "ids-file", "", "file with one license id per line")
	fl.StringVar(&src.page, "page", "", "saved HTML of store.steampowered.com/account/licenses")
	fl.BoolVar(&src.fetch, "fetch", false, "fetch the licenses page with the session cookies")
	fl.StringVar(&sessionID, "session-id", "", "Steam sessionid cookie for --fetch")
	fl.StringVarP(&format, "format", "f", "text", "output format: text, json, yaml")
	return cmd
}
