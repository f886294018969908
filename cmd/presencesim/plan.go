package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/fentz26/presencesim/internal/presence"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect the planned action queue",
}

var planPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List the next queued actions",
	RunE:  runPlanPreview,
}

var planTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show queued on/off sessions per entity",
	RunE:  runPlanTimeline,
}

var planHeatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Show turn_on counts per hour",
	RunE:  runPlanHeatmap,
}

var previewCount int

func init() {
	planCmd.AddCommand(planPreviewCmd, planTimelineCmd, planHeatmapCmd)

	planPreviewCmd.Flags().IntVarP(&previewCount, "count", "n", 10, "Number of actions to show")
}

func runPlanPreview(cmd *cobra.Command, args []string) error {
	var actions []models.PlannedAction
	if err := apiGet(fmt.Sprintf("/api/preview?count=%d", previewCount), &actions); err != nil {
		return err
	}

	if len(actions) == 0 {
		fmt.Println("No planned actions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tENTITY")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Time.Local().Format("Mon 15:04"), a.Action, a.Entity)
	}
	w.Flush()
	return nil
}

func runPlanTimeline(cmd *cobra.Command, args []string) error {
	var timeline map[string][]presence.Session
	if err := apiGet("/api/timeline", &timeline); err != nil {
		return err
	}

	if len(timeline) == 0 {
		fmt.Println("No planned sessions")
		return nil
	}

	entities := make([]string, 0, len(timeline))
	for e := range timeline {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tON\tOFF\tMINUTES")
	for _, e := range entities {
		for _, s := range timeline[e] {
			minutes := "-"
			if s.Minutes > 0 {
				minutes = fmt.Sprint(s.Minutes)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e, clock(s.On), clock(s.Off), minutes)
		}
	}
	w.Flush()
	return nil
}

func runPlanHeatmap(cmd *cobra.Command, args []string) error {
	var heatmap controlplane.Heatmap
	if err := apiGet("/api/heatmap", &heatmap); err != nil {
		return err
	}

	entities := make([]string, 0, len(heatmap.Entities))
	for e := range heatmap.Entities {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	if len(entities) == 0 {
		fmt.Println("No entities configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "ENTITY\t%s\n", hourHeader())
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\n", e, hourCells(heatmap.Entities[e], heatmap.SlotMinutes))
	}
	w.Flush()
	return nil
}

// hourCells folds slot counts into 24 hourly cells, one character each.
func hourCells(counts []int, slotMinutes int) string {
	if slotMinutes <= 0 {
		slotMinutes = 15
	}
	hours := make([]int, 24)
	for i, c := range counts {
		h := i * slotMinutes / 60
		if h < 24 {
			hours[h] += c
		}
	}

	var b strings.Builder
	for _, c := range hours {
		switch {
		case c == 0:
			b.WriteString(".")
		case c > 9:
			b.WriteString("#")
		default:
			b.WriteString(fmt.Sprint(c))
		}
	}
	return b.String()
}

func hourHeader() string {
	var b strings.Builder
	for h := 0; h < 24; h++ {
		b.WriteString(fmt.Sprint(h % 10))
	}
	return b.String()
}
