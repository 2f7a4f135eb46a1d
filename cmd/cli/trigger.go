package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"hndld/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagTenantID string
	flagScopeID  string
	flagData     string
)

// triggerCmd fires one event through the engine, e.g. from cron for "scheduled".
var triggerCmd = &cobra.Command{
	Use:   "trigger <type>",
	Short: "Process a trigger event against stored automations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		data := map[string]interface{}{}
		if flagData != "" {
			if err := json.Unmarshal([]byte(flagData), &data); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		eng := buildEngine(cfg, db, logrus.StandardLogger())
		defer eng.Close()

		eng.service.ProcessTrigger(context.Background(), services.TriggerEvent{
			Type:     args[0],
			TenantID: flagTenantID,
			ScopeID:  flagScopeID,
			Data:     data,
		})
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&flagTenantID, "tenant", "", "tenant (household) id")
	triggerCmd.Flags().StringVar(&flagScopeID, "scope", "", "optional scope id")
	triggerCmd.Flags().StringVar(&flagData, "data", "", "event data as a JSON object")
	rootCmd.AddCommand(triggerCmd)
}
