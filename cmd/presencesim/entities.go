package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/spf13/cobra"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List switchable Home Assistant entities",
	RunE:  runEntities,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Learn per-entity usage from Home Assistant history",
	RunE:  runTrain,
}

func runEntities(cmd *cobra.Command, args []string) error {
	var entities []models.Entity
	if err := apiGet("/api/entities", &entities); err != nil {
		return err
	}

	if len(entities) == 0 {
		fmt.Println("No switchable entities found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tNAME\tDOMAIN")
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.EntityID, truncate(e.Name, 40), e.Domain)
	}
	w.Flush()
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	var result controlplane.TrainResult
	if err := apiPost("/api/train", nil, &result); err != nil {
		return err
	}

	fmt.Printf("Trained on %d days of history\n\n", result.LookbackDays)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tEVENTS\tON TIMES\tMORNING\tDAY\tEVENING\tNIGHT\tERROR")
	for _, m := range result.Entities {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			m.Entity, m.Events, m.OnTimes,
			m.Samples["morning"], m.Samples["day"], m.Samples["evening"], m.Samples["night"],
			truncate(m.Error, 40))
	}
	w.Flush()
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
