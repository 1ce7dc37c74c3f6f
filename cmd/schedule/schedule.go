package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Alijeyrad/keystone_backend/cmd/cmdutil"
	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect provider schedules",
	}

	cmd.AddCommand(NewSlotsCommand())

	return cmd
}

func NewSlotsCommand() *cobra.Command {
	var (
		providerFlag string
		dateFlag     string
		duration     int
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a provider's bookable slots for one day",
		Example: `  keystone schedule slots --provider 0192f0c4-7d7e-7c59-a3c4-1b2f8e0d6a11 --date 2026-10-20
  keystone schedule slots --provider 0192f0c4-7d7e-7c59-a3c4-1b2f8e0d6a11 --date 2026-10-20 --duration 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, err := uuid.Parse(providerFlag)
			if err != nil {
				return fmt.Errorf("invalid --provider: %w", err)
			}
			date, err := scheduler.ParseDate(dateFlag)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}

			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if duration <= 0 {
				duration = cfg.Scheduling.DefaultSlotMinutes
			}
			loc, err := time.LoadLocation(cfg.Scheduling.DefaultTimezone)
			if err != nil {
				return fmt.Errorf("load default timezone: %w", err)
			}

			store, db, err := cmdutil.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := scheduler.New(store.Availability(), store.Appointments(), store, nil, scheduler.Options{DefaultLocation: loc})

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Server.TimeoutSeconds)*time.Second)
			defer cancel()

			slots, err := svc.GetAvailableSlots(ctx, providerID, date, duration)
			if err != nil {
				return err
			}
			return cmdutil.PrintJSON(cmd, slots)
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "provider id")
	cmd.Flags().StringVar(&dateFlag, "date", "", "calendar date, YYYY-MM-DD")
	cmd.Flags().IntVar(&duration, "duration", 0, "slot length in minutes (default scheduling.default_slot_minutes)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}
