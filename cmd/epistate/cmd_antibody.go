package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/models"
)

func newAntibodyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "antibody",
		Short: "Compute antibody levels for an immunization history",
		Long: `Replay an immunization history with the configured antibody model and
print the level and protection against every strain on a given day.

Each --vaccine and --infection takes NAME@DAY.

Examples:
  epistate antibody --vaccine mRNA@0 --vaccine mRNA@30 --day 180
  epistate antibody --infection DELTA@0 --vaccine omicronUpdate@200 --day 260 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			day, _ := cmd.Flags().GetInt("day")
			vaccines, _ := cmd.Flags().GetStringArray("vaccine")
			infectionsIn, _ := cmd.Flags().GetStringArray("infection")

			model, err := cfg.ImmunityModel()
			if err != nil {
				return err
			}

			var infections []models.Infection
			for _, s := range infectionsIn {
				name, d, err := parseAt(s)
				if err != nil {
					return fmt.Errorf("--infection: %w", err)
				}
				strain, err := models.ParseVirusStrain(name)
				if err != nil {
					return fmt.Errorf("--infection: %w", err)
				}
				infections = append(infections, models.Infection{Day: d, Strain: strain})
			}
			var vaccinations []models.Vaccination
			for _, s := range vaccines {
				name, d, err := parseAt(s)
				if err != nil {
					return fmt.Errorf("--vaccine: %w", err)
				}
				v, err := models.ParseVaccinationType(name)
				if err != nil {
					return fmt.Errorf("--vaccine: %w", err)
				}
				if v.IsNatural() {
					return fmt.Errorf("--vaccine: %s is an infection type; use --infection", v)
				}
				vaccinations = append(vaccinations, models.Vaccination{Day: d, Type: v, Booster: len(vaccinations) > 0})
			}

			levels := model.Levels(infections, vaccinations, day)
			beta := cfg.Antibody.Beta

			if jsonOut {
				lv := make(map[string]float64, models.NumStrains)
				prot := make(map[string]float64, models.NumStrains)
				for _, s := range models.Strains() {
					lv[s.String()] = levels[s]
					prot[s.String()] = 1 - immunity.Factor(levels[s], beta)
				}
				return writeJSON(cmd, map[string]any{"day": day, "levels": lv, "protection": prot})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Day %d\n", day)
			fmt.Fprintf(out, "  %-12s %10s %11s\n", "strain", "level", "protection")
			for _, s := range models.Strains() {
				fmt.Fprintf(out, "  %-12s %10.4f %10.1f%%\n", s, levels[s], 100*(1-immunity.Factor(levels[s], beta)))
			}
			return nil
		},
	}
	cmd.Flags().Int("day", 0, "Day to evaluate")
	cmd.Flags().StringArray("vaccine", nil, "Vaccination as TYPE@DAY (repeatable)")
	cmd.Flags().StringArray("infection", nil, "Infection as STRAIN@DAY (repeatable)")
	return cmd
}

// parseAt splits "NAME@DAY".
func parseAt(s string) (string, int, error) {
	name, dayStr, ok := strings.Cut(s, "@")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("invalid %q, expected NAME@DAY", s)
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil || day < 0 {
		return "", 0, fmt.Errorf("invalid day in %q", s)
	}
	return name, day, nil
}
