package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/spf13/cobra"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "List windows matching the target title",
	Long: `List top-level windows whose title contains the configured target title
fragment, with their process, image name and bounds.

Use this to find the right --title and --process values for a target.`,
	Example: `  # List windows matching the configured title
  twoverlay locate

  # List every titled window as JSON
  twoverlay locate --all --format json

  # Run a single rect query against the configured target
  twoverlay locate --current`,
	RunE: runLocate,
}

var (
	locateFormat  string
	locateAll     bool
	locateCurrent bool
)

func init() {
	rootCmd.AddCommand(locateCmd)

	locateCmd.Flags().StringVarP(&locateFormat, "format", "f", "table", "output format (table or json)")
	locateCmd.Flags().BoolVarP(&locateAll, "all", "a", false, "list every titled window")
	locateCmd.Flags().BoolVarP(&locateCurrent, "current", "c", false, "query the target's current rect")
}

func runLocate(cmd *cobra.Command, args []string) error {
	configMgr, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	sys, err := window.NewSystem()
	if err != nil {
		return fmt.Errorf("failed to initialize window system: %w", err)
	}

	if locateCurrent {
		tracker := window.NewTracker(sys, sched.NewLoop(), window.Target{
			TitleFragment: cfg.Target.TitleFragment,
			ProcessName:   cfg.Target.ProcessName,
		})
		defer tracker.Stop()
		return printQueryResult(os.Stdout, tracker.QueryRect(), locateFormat)
	}

	filter := cfg.Target.TitleFragment
	if locateAll {
		filter = ""
	}
	windows, err := window.ListWindows(sys, filter)
	if err != nil {
		return err
	}

	switch locateFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(os.Stdout, windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", locateFormat)
	}
}

func printWindowsTable(out io.Writer, windows []window.WindowInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "HWND\tPID\tIMAGE\tVISIBLE\tBOUNDS\tTITLE")
	fmt.Fprintln(w, "----\t---\t-----\t-------\t------\t-----")

	for _, win := range windows {
		visible := "No"
		if win.Visible {
			visible = "Yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%dx%d at (%d, %d)\t%s\n",
			win.Handle, win.PID, win.Image, visible,
			win.Bounds.Width, win.Bounds.Height, win.Bounds.X, win.Bounds.Y,
			win.Title)
	}

	return nil
}

func printQueryResult(out io.Writer, res window.QueryResult, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(res)
	}

	fmt.Fprintf(out, "Result:     %s\n", res.Kind)
	switch res.Kind {
	case window.KindRect:
		fmt.Fprintf(out, "Handle:     %s\n", res.Rect.Handle)
		fmt.Fprintf(out, "Geometry:   %dx%d at (%d, %d)\n",
			res.Rect.Width, res.Rect.Height, res.Rect.X, res.Rect.Y)
		fmt.Fprintf(out, "Foreground: %t\n", res.Rect.Foreground)
	case window.KindTransientError:
		fmt.Fprintf(out, "Error:      %s\n", res.Message)
	}
	return nil
}
