package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

type rulesFlags struct {
	timezone      string
	allowWeekends bool
	startHour     int
	endHour       int
	lunchStart    int
	lunchEnd      int
	noLunch       bool
	stepMinutes   int
}

func (f *rulesFlags) register(fs *pflag.FlagSet) {
	d := policy.Default("")
	fs.StringVar(&f.timezone, "timezone", "", "IANA zone the hours are local to (default: the tenant's zone)")
	fs.BoolVar(&f.allowWeekends, "allow-weekends", d.AllowWeekends, "accept Saturday and Sunday bookings")
	fs.IntVar(&f.startHour, "start-hour", d.StartHour, "opening hour (0-23)")
	fs.IntVar(&f.endHour, "end-hour", d.EndHour, "closing hour (1-24)")
	fs.IntVar(&f.lunchStart, "lunch-start", *d.LunchStartHour, "lunch break start hour")
	fs.IntVar(&f.lunchEnd, "lunch-end", *d.LunchEndHour, "lunch break end hour")
	fs.BoolVar(&f.noLunch, "no-lunch", false, "no lunch break")
	fs.IntVar(&f.stepMinutes, "step", d.StepMinutes, "slot granularity in minutes")
}

func (f *rulesFlags) rules() (policy.Rules, error) {
	r := policy.Rules{
		Timezone:      f.timezone,
		AllowWeekends: f.allowWeekends,
		StartHour:     f.startHour,
		EndHour:       f.endHour,
		StepMinutes:   f.stepMinutes,
	}
	if !f.noLunch {
		ls, le := f.lunchStart, f.lunchEnd
		r.LunchStartHour, r.LunchEndHour = &ls, &le
	}
	if err := r.Check(); err != nil {
		return policy.Rules{}, err
	}
	return r, nil
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage tenant business rules",
	}
	cmd.AddCommand(newRulesSetCmd())
	return cmd
}

func newRulesSetCmd() *cobra.Command {
	var tenantID string
	var f rulesFlags
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace a tenant's business hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			rules, err := f.rules()
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := storage.NewTenantRepository(pool).UpsertBusinessRules(cmd.Context(), tenantID, rules); err != nil {
				return fmt.Errorf("save rules: %w", err)
			}
			zone := rules.Timezone
			if zone == "" {
				zone = "tenant zone"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rules saved for %s: %02d:00-%02d:00 %s, step %dm\n",
				tenantID, rules.StartHour, rules.EndHour, zone, rules.StepMinutes)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	f.register(cmd.Flags())
	return cmd
}
