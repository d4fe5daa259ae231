package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/corentin-larose/pst-ingest/config"
	"github.com/corentin-larose/pst-ingest/stats"
	"github.com/corentin-larose/pst-ingest/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-mailbox totals and top identities from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReport(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.DB.DSN())
		if err != nil {
			return err
		}
		defer st.Close()

		db := st.DB()

		type mailboxRow struct {
			Owner  string `db:"owner_identifier"`
			Source string `db:"pst_filename"`
			Total  int    `db:"total"`
		}
		var mailboxes []mailboxRow
		err = db.SelectContext(ctx, &mailboxes, `
			SELECT m.owner_identifier, m.pst_filename, COUNT(em.email_id) AS total
			FROM mailbox m
			LEFT JOIN email_mailbox em ON em.mailbox_id = m.id
			GROUP BY m.id, m.owner_identifier, m.pst_filename
			ORDER BY total DESC`)
		if err != nil {
			return fmt.Errorf("query mailboxes: %w", err)
		}

		fmt.Println("Emails per mailbox:")
		for _, m := range mailboxes {
			fmt.Printf("  %s (%s): %d\n", m.Owner, m.Source, m.Total)
		}
		fmt.Println()

		senders, err := topIdentities(cmd, `
			SELECT i.email_address, COUNT(*) AS total
			FROM email e
			JOIN identity i ON i.id = e.sender_identity_id
			GROUP BY i.email_address
			ORDER BY total DESC
			LIMIT ?`, st, cfg.Top)
		if err != nil {
			return err
		}
		fmt.Printf("Top %d senders:\n", cfg.Top)
		stats.PrettyPrintTop(senders, cfg.Top)
		fmt.Println()

		recipients, err := topIdentities(cmd, `
			SELECT i.email_address, COUNT(*) AS total
			FROM email_recipient er
			JOIN identity i ON i.id = er.identity_id
			GROUP BY i.email_address
			ORDER BY total DESC
			LIMIT ?`, st, cfg.Top)
		if err != nil {
			return err
		}
		fmt.Printf("Top %d recipients:\n", cfg.Top)
		stats.PrettyPrintTop(recipients, cfg.Top)

		if cfg.OutputDir != "" {
			reports := map[string]map[string]int{
				"senders":    senders,
				"recipients": recipients,
			}
			if err := saveCSVReports(reports, cfg.OutputDir); err != nil {
				return fmt.Errorf("save CSV reports: %w", err)
			}
			fmt.Printf("\nReports saved to directory: %s\n", cfg.OutputDir)
		}

		return nil
	},
}

func init() {
	config.RegisterReportFlags(reportCmd)
	rootCmd.AddCommand(reportCmd)
}

func topIdentities(cmd *cobra.Command, query string, st *store.Store, limit int) (map[string]int, error) {
	type row struct {
		Address string `db:"email_address"`
		Total   int    `db:"total"`
	}
	var rows []row
	if err := st.DB().SelectContext(cmd.Context(), &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Address] = r.Total
	}
	return out, nil
}

func saveCSVReports(reports map[string]map[string]int, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for name, counts := range reports {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", name))

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		for _, p := range pairs {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}
