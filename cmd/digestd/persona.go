package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crestline-labs/digestd/internal/events"
	"github.com/crestline-labs/digestd/internal/feedback"
	"github.com/crestline-labs/digestd/internal/persona"
)

var (
	// persona command flags
	pUserID      string
	pRole        string
	pTeam        string
	pTopics      []string
	pMinSeverity string
	pCrossTeam   float64
	pOutputJSON  bool
)

func init() {
	rootCmd.AddCommand(personaCmd)
	personaCmd.AddCommand(personaSetCmd)
	personaCmd.AddCommand(personaShowCmd)

	personaCmd.PersistentFlags().StringVar(&pUserID, "user", "", "user identifier (required)")
	_ = personaCmd.MarkPersistentFlagRequired("user")

	personaSetCmd.Flags().StringVar(&pRole, "role", "ic", "role template: lead, ic, pm, executive")
	personaSetCmd.Flags().StringVar(&pTeam, "team", "general", "team template: mechanical, electrical, software, general")
	personaSetCmd.Flags().StringSliceVar(&pTopics, "topics", nil, "override topic keywords")
	personaSetCmd.Flags().StringVar(&pMinSeverity, "min-severity", "", "override minimum severity: low, medium, high, critical")
	personaSetCmd.Flags().Float64Var(&pCrossTeam, "cross-team-weight", 0, "override cross-team weight")

	personaShowCmd.Flags().BoolVar(&pOutputJSON, "json", false, "output as JSON")
}

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage recipient personas",
}

var personaSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Assign a persona to a recipient",
	Long: `Assign a role and team persona to a recipient, with optional
overrides that replace the resolved template fields outright.

Examples:
  digestd persona set --user U123 --role lead --team software
  digestd persona set --user U123 --role exec --team general --min-severity high`,
	RunE: runPersonaSet,
}

var personaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a recipient's resolved persona",
	RunE:  runPersonaShow,
}

func runPersonaSet(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var overrides *persona.Overrides
	if len(pTopics) > 0 || pMinSeverity != "" || pCrossTeam != 0 {
		overrides = &persona.Overrides{}
		if len(pTopics) > 0 {
			overrides.Topics = pTopics
		}
		if pMinSeverity != "" {
			sev := events.Urgency(strings.ToLower(pMinSeverity))
			overrides.MinSeverity = &sev
		}
		if pCrossTeam != 0 {
			overrides.CrossTeamWeight = &pCrossTeam
		}
	}

	fbStore, err := feedback.NewStore(cfg.Storage.FeedbackDB, cfg.Feedback, logger)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}
	defer fbStore.Close()

	if err := fbStore.SetPersona(cmd.Context(), pUserID, pRole, pTeam, overrides); err != nil {
		return err
	}

	fmt.Printf("Persona for %s set to %s/%s\n", pUserID, pRole, pTeam)
	return nil
}

func runPersonaShow(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	fbStore, err := feedback.NewStore(cfg.Storage.FeedbackDB, cfg.Feedback, logger)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}
	defer fbStore.Close()

	role, team, overrides, err := fbStore.Persona(cmd.Context(), pUserID)
	if err != nil {
		return err
	}

	resolved := persona.NewResolver(logger).Resolve(role, team, overrides)

	if pOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resolved)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", resolved.Name)
	fmt.Fprintf(w, "Team:\t%s\n", resolved.Team)
	fmt.Fprintf(w, "Cross-team weight:\t%.2f\n", resolved.CrossTeamWeight)
	fmt.Fprintf(w, "Min severity:\t%s\n", resolved.MinSeverity)
	fmt.Fprintf(w, "Topics:\t%s\n", strings.Join(resolved.Topics, ", "))
	for _, kind := range events.Kinds() {
		fmt.Fprintf(w, "Boost %s:\t%.2f\n", kind, resolved.Boost(kind))
	}
	return w.Flush()
}
