package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snigate/snigate/pkg/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query recorded accept attempts",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().String("stats-db", "snigate.db", "Stats sqlite database")
	statsCmd.Flags().Int("limit", 50, "Number of records to show")
	statsCmd.Flags().Bool("summary", false, "Show per-error-class counts instead of rows")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{"stats_db_path": "stats-db"})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	summary, _ := cmd.Flags().GetBool("summary")

	store, err := stats.Open(cfg.StatsDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if summary {
		counts, err := store.Summary()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ERROR CLASS\tCOUNT")
		for _, cc := range counts {
			class := string(cc.ErrorClass)
			if class == "" {
				class = "ok"
			}
			fmt.Fprintf(w, "%s\t%d\n", class, cc.Count)
		}
		return nil
	}

	recs, err := store.Recent(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME\tHOSTNAME\tPORT\tPEER\tPROCESS\tERROR CLASS")
	for _, rec := range recs {
		class := string(rec.ErrorClass)
		if class == "" {
			class = "ok"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.Timestamp.Local().Format(time.DateTime),
			rec.Hostname, rec.Port, rec.PeerAddress, rec.ProcessName, class)
	}
	return nil
}
