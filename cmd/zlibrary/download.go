package main

import (
	"fmt"

	"github.com/banux/zlibrary/internal/catalog"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download BOOK_ID",
	Short: "Download a book previously ingested into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		dest, _ := cmd.Flags().GetString("dest")

		b, err := a.catalog.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		d, err := a.orch.Download(cmd.Context(), resultFromBook(b), dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", b.Title, d.FilePath, d.Status)
		return nil
	},
}

var downloadAllCmd = &cobra.Command{
	Use:   "download-all QUERY",
	Short: "Search every page for QUERY and download every result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		filter, err := searchFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		dest, _ := cmd.Flags().GetString("dest")

		results, err := a.orch.SearchAllPages(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}

		downloads, err := a.orch.DownloadAllPages(cmd.Context(), results, dest)
		if err != nil {
			return err
		}

		ok := 0
		for _, d := range downloads {
			if d.Status == catalog.DownloadCompleted {
				ok++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d of %d\n", ok, len(downloads))
		return nil
	},
}

func init() {
	downloadCmd.Flags().String("dest", ".", "destination directory for the downloaded file")

	downloadAllCmd.Flags().String("dest", ".", "destination directory for downloaded files")
	downloadAllCmd.Flags().String("language", "", "filter by language code")
	downloadAllCmd.Flags().String("extension", "", "filter by file extension")
	downloadAllCmd.Flags().Int("year-from", 0, "only books published in or after this year")
	downloadAllCmd.Flags().Int("year-to", 0, "only books published in or before this year")
	downloadAllCmd.Flags().String("order", "popular", "sort order: popular, year, title")
	downloadAllCmd.Flags().Int("page", 0, "ignored: download-all always starts at page 1")
	downloadAllCmd.Flags().Int("limit", 25, "results per page, clamped to [1,100]")
}

// resultFromBook reconstructs the upstream.BookResult Resolve needs from a
// catalog.Book already ingested by a prior search.
func resultFromBook(b catalog.Book) upstream.BookResult {
	return upstream.BookResult{
		ExternalID:  b.ID,
		Hash:        b.Hash,
		Title:       b.Title,
		Year:        b.Year,
		Publisher:   b.Publisher,
		Language:    b.Language,
		Extension:   b.Extension,
		SizeHuman:   b.SizeHuman,
		SizeBytes:   b.SizeBytes,
		CoverURL:    b.CoverURL,
		Description: b.Description,
		ISBN:        b.ISBN,
		Edition:     b.Edition,
		Pages:       b.Pages,
	}
}
