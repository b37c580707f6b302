package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var downloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "List recent download attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt("limit")
		downloads, err := a.catalog.RecentDownloads(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-12s %-10s %-40s %s\n", "BOOK", "STATUS", "PATH", "WHEN")
		for _, d := range downloads {
			fmt.Fprintf(out, "%-12s %-10s %-40s %s\n",
				truncateStr(d.BookID, 12), d.Status, truncateStr(d.FilePath, 40), d.DownloadedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog summary statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := a.catalog.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Books:       %d\n", st.TotalBooks)
		fmt.Fprintf(out, "Languages:   %d\n", st.DistinctLanguages)
		fmt.Fprintf(out, "Formats:     %d\n", st.DistinctFormats)
		fmt.Fprintf(out, "Downloads:   %d\n", st.TotalDownloads)
		fmt.Fprintf(out, "Database:    %s\n", humanize.Bytes(uint64(st.DBSizeBytes)))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog to JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		switch format {
		case "json":
			data, err := a.catalog.ExportJSON(cmd.Context())
			if err != nil {
				return err
			}
			return writeExport(outPath, data)
		case "csv":
			f, err := openExportDest(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w := csv.NewWriter(f)
			if err := a.catalog.ExportCSV(cmd.Context(), w); err != nil {
				return err
			}
			return nil
		default:
			return fmt.Errorf("unknown --format %q (want json or csv)", format)
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import books from a JSON or CSV file into the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		format, _ := cmd.Flags().GetString("format")
		inPath, _ := cmd.Flags().GetString("in")

		var ingested int
		var errs []error
		switch format {
		case "json":
			data, rerr := os.ReadFile(inPath)
			if rerr != nil {
				return rerr
			}
			ingested, errs = a.catalog.ImportJSON(cmd.Context(), data)
		case "csv":
			f, rerr := os.Open(inPath)
			if rerr != nil {
				return rerr
			}
			defer f.Close()
			ingested, errs = a.catalog.ImportCSV(cmd.Context(), csv.NewReader(f))
		default:
			return fmt.Errorf("unknown --format %q (want json or csv)", format)
		}

		for _, e := range errs {
			a.log.Warn().Err(e).Msg("import: record rejected")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d, %d rejected\n", ingested, len(errs))
		return nil
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact the catalog database file, optionally taking a backup first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		backupDir, _ := cmd.Flags().GetString("backup-dir")
		if backupDir != "" {
			keep, _ := cmd.Flags().GetInt("keep")
			path, err := a.catalog.Backup(cmd.Context(), backupDir, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backed up to %s\n", path)
		}

		if err := a.catalog.Vacuum(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "vacuum complete")
		return nil
	},
}

func init() {
	downloadsCmd.Flags().Int("limit", 25, "max rows to print")

	exportCmd.Flags().String("format", "json", "export format: json or csv")
	exportCmd.Flags().String("out", "", "output file (default: stdout)")

	importCmd.Flags().String("format", "json", "import format: json or csv")
	importCmd.Flags().String("in", "", "input file (required)")
	importCmd.MarkFlagRequired("in")

	vacuumCmd.Flags().String("backup-dir", "", "take a VACUUM INTO backup in this directory first")
	vacuumCmd.Flags().Int("keep", 7, "backups to retain when --backup-dir is set")
}

func writeExport(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func openExportDest(path string) (*os.File, error) {
	if path == "" {
		return os.Stdout, nil
	}
	return os.Create(path)
}
