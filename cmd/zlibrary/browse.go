package main

import (
	"fmt"
	"strings"

	"github.com/banux/zlibrary/internal/catalog"
	"github.com/spf13/cobra"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse books already in the local catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		filter, err := catalogFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		books, total, err := a.catalog.Browse(cmd.Context(), filter, limit, offset)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-12s %-40s %-24s %-6s\n", "ID", "TITLE", "AUTHORS", "YEAR")
		for _, b := range books {
			fmt.Fprintf(out, "%-12s %-40s %-24s %-6s\n",
				truncateStr(b.ID, 12), truncateStr(b.Title, 40), truncateStr(strings.Join(b.Authors, ", "), 24), b.Year)
		}
		fmt.Fprintf(out, "\nshowing %d of %d\n", len(books), total)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show BOOK_ID",
	Short: "Show full catalog details for one book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		b, err := a.catalog.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Title:     %s\n", b.Title)
		fmt.Fprintf(out, "Authors:   %s\n", strings.Join(b.Authors, ", "))
		fmt.Fprintf(out, "Year:      %s\n", b.Year)
		fmt.Fprintf(out, "Publisher: %s\n", b.Publisher)
		fmt.Fprintf(out, "Language:  %s\n", b.Language)
		fmt.Fprintf(out, "Format:    %s\n", b.Extension)
		fmt.Fprintf(out, "Size:      %s\n", b.SizeHuman)
		fmt.Fprintf(out, "ISBN:      %s\n", b.ISBN)
		return nil
	},
}

func init() {
	browseCmd.Flags().String("title-contains", "", "filter by substring of the title")
	browseCmd.Flags().String("author", "", "filter by author name")
	browseCmd.Flags().String("language", "", "filter by language code")
	browseCmd.Flags().String("extension", "", "filter by file extension")
	browseCmd.Flags().String("year-from", "", "only books published in or after this year")
	browseCmd.Flags().String("year-to", "", "only books published in or before this year")
	browseCmd.Flags().String("order", "title", "sort order: title, year, popular")
	browseCmd.Flags().Int("limit", 25, "max rows to print")
	browseCmd.Flags().Int("offset", 0, "rows to skip")
}

func catalogFilterFromFlags(cmd *cobra.Command) (catalog.SearchFilter, error) {
	title, _ := cmd.Flags().GetString("title-contains")
	author, _ := cmd.Flags().GetString("author")
	lang, _ := cmd.Flags().GetString("language")
	ext, _ := cmd.Flags().GetString("extension")
	yearFrom, _ := cmd.Flags().GetString("year-from")
	yearTo, _ := cmd.Flags().GetString("year-to")
	orderStr, _ := cmd.Flags().GetString("order")

	var order catalog.SortOrder
	switch strings.ToLower(orderStr) {
	case "", "title":
		order = catalog.SortByTitle
	case "year":
		order = catalog.SortByYear
	case "popular":
		order = catalog.SortByPopular
	default:
		return catalog.SearchFilter{}, fmt.Errorf("unknown --order %q (want title, year, or popular)", orderStr)
	}

	return catalog.SearchFilter{
		TitleContains: title,
		Author:        author,
		Language:      lang,
		Extension:     ext,
		YearFrom:      yearFrom,
		YearTo:        yearTo,
		Order:         order,
	}, nil
}
