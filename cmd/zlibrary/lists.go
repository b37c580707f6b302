package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var saveCmd = &cobra.Command{
	Use:   "save BOOK_ID",
	Short: "Bookmark a catalog book with optional notes, tags, and priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		notes, _ := cmd.Flags().GetString("notes")
		priority, _ := cmd.Flags().GetInt("priority")
		tagsRaw, _ := cmd.Flags().GetString("tags")
		var tags []string
		if tagsRaw != "" {
			tags = strings.Split(tagsRaw, ",")
		}

		if err := a.catalog.SaveBook(cmd.Context(), args[0], notes, tags, priority); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
		return nil
	},
}

var unsaveCmd = &cobra.Command{
	Use:   "unsave BOOK_ID",
	Short: "Remove a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := a.catalog.UnsaveBook(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unsaved %s\n", args[0])
		return nil
	},
}

var listCreateCmd = &cobra.Command{
	Use:   "list-create NAME",
	Short: "Create a new reading list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		desc, _ := cmd.Flags().GetString("description")
		list, err := a.catalog.CreateList(cmd.Context(), args[0], desc)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created list %q (id %d)\n", list.Name, list.ID)
		return nil
	},
}

var listAddCmd = &cobra.Command{
	Use:   "list-add LIST_NAME BOOK_ID",
	Short: "Add a book to a reading list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := a.catalog.AddToList(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s to %q\n", args[1], args[0])
		return nil
	},
}

var listRemoveCmd = &cobra.Command{
	Use:   "list-remove LIST_NAME BOOK_ID",
	Short: "Remove a book from a reading list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := a.catalog.RemoveFromList(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %q\n", args[1], args[0])
		return nil
	},
}

var listShowCmd = &cobra.Command{
	Use:   "list-show LIST_NAME",
	Short: "Show the books in a reading list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeFn, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		books, err := a.catalog.ListBooks(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-12s %-40s %-24s %s\n", "ID", "TITLE", "AUTHORS", "YEAR")
		for _, b := range books {
			fmt.Fprintf(out, "%-12s %-40s %-24s %s\n",
				truncateStr(b.ID, 12), truncateStr(b.Title, 40), truncateStr(strings.Join(b.Authors, ", "), 24), b.Year)
		}
		return nil
	},
}

func init() {
	saveCmd.Flags().String("notes", "", "free-form notes")
	saveCmd.Flags().String("tags", "", "comma-separated tags")
	saveCmd.Flags().Int("priority", 0, "priority, higher sorts first")

	listCreateCmd.Flags().String("description", "", "description of the list")
}
