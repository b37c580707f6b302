package main

import (
	"fmt"
	"strings"

	"github.com/banux/zlibrary/internal/catalog"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the upstream service and optionally ingest results into the catalog",
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
		allPages, _ := cmd.Flags().GetBool("all-pages")
		save, _ := cmd.Flags().GetBool("save")

		var results []upstream.BookResult
		if allPages {
			results, err = a.orch.SearchAllPages(cmd.Context(), args[0], filter)
		} else {
			results, err = a.orch.Search(cmd.Context(), args[0], filter)
		}
		if err != nil {
			return err
		}

		if save {
			books := make([]catalog.Book, len(results))
			authors := make([]string, len(results))
			for i, r := range results {
				books[i] = bookFromResult(r)
				authors[i] = r.Author
			}
			ingested, errs := a.catalog.IngestSearchResults(cmd.Context(), books, authors)
			for _, e := range errs {
				a.log.Warn().Err(e).Msg("ingest failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d of %d results\n", ingested, len(results))
		}

		printBookResults(cmd, results)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("language", "", "filter by language code")
	searchCmd.Flags().String("extension", "", "filter by file extension")
	searchCmd.Flags().Int("year-from", 0, "only books published in or after this year")
	searchCmd.Flags().Int("year-to", 0, "only books published in or before this year")
	searchCmd.Flags().String("order", "popular", "sort order: popular, year, title")
	searchCmd.Flags().Int("page", 0, "page number (ignored with --all-pages)")
	searchCmd.Flags().Int("limit", 25, "results per page, clamped to [1,100]")
	searchCmd.Flags().Bool("all-pages", false, "fetch every page until the upstream service runs dry")
	searchCmd.Flags().Bool("save", false, "ingest results into the local catalog")
}

func searchFilterFromFlags(cmd *cobra.Command) (upstream.SearchFilter, error) {
	lang, _ := cmd.Flags().GetString("language")
	ext, _ := cmd.Flags().GetString("extension")
	yearFrom, _ := cmd.Flags().GetInt("year-from")
	yearTo, _ := cmd.Flags().GetInt("year-to")
	orderStr, _ := cmd.Flags().GetString("order")
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")

	order, err := parseSortOrder(orderStr)
	if err != nil {
		return upstream.SearchFilter{}, err
	}

	return upstream.SearchFilter{
		YearFrom: yearFrom,
		YearTo:   yearTo,
		Language: lang,
		Ext:      ext,
		Order:    order,
		Page:     page,
		Limit:    limit,
	}, nil
}

func parseSortOrder(s string) (upstream.SortOrder, error) {
	switch strings.ToLower(s) {
	case "", "popular":
		return upstream.SortPopular, nil
	case "year":
		return upstream.SortYear, nil
	case "title":
		return upstream.SortTitle, nil
	default:
		return 0, fmt.Errorf("unknown --order %q (want popular, year, or title)", s)
	}
}

func bookFromResult(r upstream.BookResult) catalog.Book {
	return catalog.Book{
		ID:          r.ExternalID,
		Hash:        r.Hash,
		Title:       r.Title,
		Year:        r.Year,
		Publisher:   r.Publisher,
		Language:    r.Language,
		Extension:   r.Extension,
		SizeHuman:   r.SizeHuman,
		SizeBytes:   r.SizeBytes,
		CoverURL:    r.CoverURL,
		Description: r.Description,
		ISBN:        r.ISBN,
		Edition:     r.Edition,
		Pages:       r.Pages,
	}
}

func printBookResults(cmd *cobra.Command, results []upstream.BookResult) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	fmt.Fprintf(out, "%-12s %-40s %-24s %-6s %s\n", "ID", "TITLE", "AUTHOR", "YEAR", "EXT")
	for _, r := range results {
		fmt.Fprintf(out, "%-12s %-40s %-24s %-6s %s\n",
			truncateStr(r.ExternalID, 12), truncateStr(r.Title, 40), truncateStr(r.Author, 24), r.Year, r.Extension)
	}
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

