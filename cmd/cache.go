package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mediarelay/internal/cache"
	"mediarelay/internal/config"
	"mediarelay/internal/link"
	"mediarelay/internal/media"
)

var flagLimit int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and edit the media cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached links",
	Args:  cobra.NoArgs,
	RunE:  cacheListRun,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Show the cached handles for a link",
	Args:  cobra.ExactArgs(1),
	RunE:  cacheGetRun,
}

var cacheForgetCmd = &cobra.Command{
	Use:   "forget <url>",
	Short: "Drop a link from the cache so the next request downloads it again",
	Args:  cobra.ExactArgs(1),
	RunE:  cacheForgetRun,
}

func init() {
	cacheListCmd.Flags().IntVarP(&flagLimit, "limit", "n", 50, "Maximum entries to show (0 for all)")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheForgetCmd)
}

func openStore() (*cache.Store, error) {
	path, err := config.ExpandPath(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

func cacheListRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), flagLimit)
	if err != nil {
		return err
	}
	total, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cache is empty.")
		return nil
	}

	if isTerminal(out) {
		fmt.Fprintln(out, renderTable(entries))
		fmt.Fprintf(out, "%d of %d entries\n", len(entries), total)
		return nil
	}
	writeTSV(out, entries)
	return nil
}

func cacheGetRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	key := link.Normalize(args[0])
	e, ok, err := store.Get(cmd.Context(), key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no cache entry for %s", key)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, e.URL)
	fmt.Fprintf(out, "video: %s\n", orDash(e.Video))
	fmt.Fprintf(out, "audio: %s\n", orDash(e.Audio))
	return nil
}

func cacheForgetRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	key := link.Normalize(args[0])
	removed, err := store.Delete(cmd.Context(), key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no cache entry for %s", key)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", key)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func renderTable(entries []media.Entry) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	missing := cell.Foreground(lipgloss.Color("9"))

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.URL, shorten(e.Video), shorten(e.Audio)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers("URL", "VIDEO", "AUDIO").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if col > 0 && rows[row][col] == "-" {
				return missing
			}
			return cell
		})
	return t.String()
}

func writeTSV(w io.Writer, entries []media.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.URL, e.Video, e.Audio)
	}
}

// shorten trims a file_id for display; full handles are available via cache get.
func shorten(h media.Handle) string {
	s := orDash(h)
	if len(s) > 20 {
		return s[:12] + "…" + s[len(s)-6:]
	}
	return s
}

func orDash(h media.Handle) string {
	if h == "" {
		return "-"
	}
	return string(h)
}
