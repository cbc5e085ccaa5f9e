package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileOverlay mirrors the sections that may be tuned from a YAML file.
// Absent keys keep the env values.
type fileOverlay struct {
	Agent *struct {
		DailyHour        *int    `yaml:"daily_hour"`
		WeeklyWeekday    *string `yaml:"weekly_weekday"`
		MonthlyDay       *int    `yaml:"monthly_day"`
		Parallelism      *int    `yaml:"parallelism"`
		WaistTrendWeeks  *int    `yaml:"waist_trend_weeks"`
		AutoApplyWeekly  *bool   `yaml:"auto_apply_weekly"`
		AutoApplyMonthly *bool   `yaml:"auto_apply_monthly"`
		TimeZone         *string `yaml:"time_zone"`
	} `yaml:"agent"`
	Movement *struct {
		ReminderDelayMinutes *int `yaml:"reminder_delay_minutes"`
		EvalIntervalMinutes  *int `yaml:"eval_interval_minutes"`
		MealLookbackMinutes  *int `yaml:"meal_lookback_minutes"`
	} `yaml:"movement"`
	Notify *struct {
		MaxPerDay      *int    `yaml:"max_per_day"`
		DesktopEnabled *bool   `yaml:"desktop_enabled"`
		PushWebhookURL *string `yaml:"push_webhook_url"`
		QuietStart     *string `yaml:"quiet_start"`
		QuietEnd       *string `yaml:"quiet_end"`
	} `yaml:"notify"`
}

// ApplyFile overlays a YAML file onto the config.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := c.ApplyYAML(data); err != nil {
		return err
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) ApplyYAML(data []byte) error {
	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if a := o.Agent; a != nil {
		if a.DailyHour != nil {
			c.Agent.DailyHour = clampInt(*a.DailyHour, 0, 23)
		}
		if a.WeeklyWeekday != nil {
			wd, ok := weekdayByName(*a.WeeklyWeekday)
			if !ok {
				return fmt.Errorf("agent.weekly_weekday: unknown weekday %q", *a.WeeklyWeekday)
			}
			c.Agent.WeeklyWeekday = wd
		}
		if a.MonthlyDay != nil {
			c.Agent.MonthlyDay = clampInt(*a.MonthlyDay, 1, 28)
		}
		if a.Parallelism != nil {
			c.Agent.Parallelism = clampInt(*a.Parallelism, 1, 64)
		}
		if a.WaistTrendWeeks != nil {
			c.Agent.WaistTrendWeeks = parseWaistTrendWeeks(*a.WaistTrendWeeks)
		}
		if a.AutoApplyWeekly != nil {
			c.Agent.AutoApplyWeekly = *a.AutoApplyWeekly
		}
		if a.AutoApplyMonthly != nil {
			c.Agent.AutoApplyMonthly = *a.AutoApplyMonthly
		}
		if a.TimeZone != nil {
			if _, err := time.LoadLocation(*a.TimeZone); err != nil {
				return fmt.Errorf("agent.time_zone: %w", err)
			}
			c.Agent.TimeZone = *a.TimeZone
		}
	}

	if m := o.Movement; m != nil {
		if m.ReminderDelayMinutes != nil {
			c.Movement.ReminderDelayMinutes = clampInt(*m.ReminderDelayMinutes, 15, 90)
		}
		if m.EvalIntervalMinutes != nil {
			c.Movement.EvalIntervalMinutes = clampInt(*m.EvalIntervalMinutes, 5, 120)
		}
		if m.MealLookbackMinutes != nil {
			c.Movement.MealLookbackMinutes = clampInt(*m.MealLookbackMinutes, 61, 360)
		}
	}

	if n := o.Notify; n != nil {
		if n.MaxPerDay != nil && *n.MaxPerDay > 0 {
			c.Notify.MaxPerDay = *n.MaxPerDay
		}
		if n.DesktopEnabled != nil {
			c.Notify.DesktopEnabled = *n.DesktopEnabled
		}
		if n.PushWebhookURL != nil {
			c.Notify.PushWebhookURL = *n.PushWebhookURL
		}
		if n.QuietStart != nil || n.QuietEnd != nil {
			next := c.Notify
			if n.QuietStart != nil {
				next.QuietStart = *n.QuietStart
			}
			if n.QuietEnd != nil {
				next.QuietEnd = *n.QuietEnd
			}
			if _, _, err := next.QuietHours(); err != nil {
				return fmt.Errorf("notify quiet hours: %w", err)
			}
			c.Notify = next
		}
	}
	return nil
}
