package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/app"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/dose"
	"github.com/gmsas95/pillpal/internal/session"
	"golang.org/x/term"
)

var Version = "dev"

// ==================== Report ====================

// HandleReportCommand prints a patient's monthly adherence report. On a
// terminal the default output is a calendar table, otherwise JSON.
func HandleReportCommand(args []string, application *app.App, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(out)
	patientID := fs.String("patient", "", "Patient id")
	month := fs.String("month", time.Now().Format("2006-01"), "Month as YYYY-MM")
	format := fs.String("format", "", "Output format: table, json or yaml")
	tz := fs.String("tz", "", "Patient timezone (defaults to the configured one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *patientID == "" {
		return fmt.Errorf("-patient is required")
	}

	year, mon, err := adherence.ParseMonth(*month)
	if err != nil {
		return err
	}
	if err := application.Build(); err != nil {
		return err
	}
	patient, err := patientFor(application, *patientID, *tz)
	if err != nil {
		return err
	}

	report, err := application.Adherence.Month(context.Background(), patient, year, mon)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if *format == "" {
		*format = "json"
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			*format = "table"
		}
	}
	if *format == "table" || *format == "calendar" {
		_, err := fmt.Fprintln(out, RenderCalendar(report))
		return err
	}
	return report.Export(out, *format)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	headerStyle  = lipgloss.NewStyle().Faint(true).Width(5).Align(lipgloss.Right)
	cellStyle    = lipgloss.NewStyle().Width(5).Align(lipgloss.Right)
	goodStyle    = cellStyle.Foreground(lipgloss.Color("42"))
	partialStyle = cellStyle.Foreground(lipgloss.Color("214"))
	missedStyle  = cellStyle.Foreground(lipgloss.Color("196"))
	idleStyle    = cellStyle.Faint(true)
)

// RenderCalendar draws the month as a Monday-first grid with each day
// colored by its adherence
func RenderCalendar(report *adherence.MonthReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(report.MonthTitle))
	b.WriteString("\n")

	headers := make([]string, 0, 7)
	for _, d := range []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"} {
		headers = append(headers, headerStyle.Render(d))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, headers...))
	b.WriteString("\n")

	if len(report.StatsByDay) > 0 {
		first, err := dose.ParseDate(report.StatsByDay[0].Date)
		if err == nil {
			offset := (int(first.Weekday()) + 6) % 7
			row := make([]string, 0, 7)
			for i := 0; i < offset; i++ {
				row = append(row, cellStyle.Render(""))
			}
			for _, day := range report.StatsByDay {
				row = append(row, dayCell(day))
				if len(row) == 7 {
					b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
					b.WriteString("\n")
					row = row[:0]
				}
			}
			if len(row) > 0 {
				b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
				b.WriteString("\n")
			}
		}
	}

	s := report.Summary
	fmt.Fprintf(&b, "\nAverage adherence: %d%%\n", s.AverageAdherence)
	fmt.Fprintf(&b, "MPR: %d%%  PDC: %d%%\n", s.MPR, s.PDC)
	fmt.Fprintf(&b, "Days with data: %d", s.DaysWithData)
	return b.String()
}

func dayCell(day adherence.DayStats) string {
	label := day.Date[len(day.Date)-2:]
	label = strings.TrimPrefix(label, "0")
	switch {
	case day.TotalPlanned == 0:
		return idleStyle.Render(label)
	case day.Adherence() >= 80:
		return goodStyle.Render(label)
	case day.Taken > 0:
		return partialStyle.Render(label)
	default:
		return missedStyle.Render(label)
	}
}

// ==================== Resync ====================

// HandleResyncCommand rebuilds the reminder triggers of one patient
func HandleResyncCommand(args []string, application *app.App, out io.Writer) error {
	fs := flag.NewFlagSet("resync", flag.ContinueOnError)
	fs.SetOutput(out)
	patientID := fs.String("patient", "", "Patient id")
	tz := fs.String("tz", "", "Patient timezone (defaults to the configured one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *patientID == "" {
		return fmt.Errorf("-patient is required")
	}
	if err := application.Build(); err != nil {
		return err
	}
	patient, err := patientFor(application, *patientID, *tz)
	if err != nil {
		return err
	}

	res, err := application.Scheduler.Resync(context.Background(), patient)
	if err != nil {
		return fmt.Errorf("failed to resync: %w", err)
	}
	if res.Disabled {
		fmt.Fprintln(out, "Reminders are disabled: no delivery channel is configured")
		return nil
	}
	fmt.Fprintf(out, "✓ Resync done: %d cancelled, %d scheduled, %d failed\n",
		res.Cancelled, res.Scheduled, res.Failed)
	return nil
}

func patientFor(application *app.App, id, tz string) (session.Patient, error) {
	if tz == "" {
		return session.Patient{ID: id, Location: application.Location}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return session.Patient{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return session.NewPatient(id, loc)
}

// ==================== Status ====================

// HandleStatusCommand prints the effective configuration
func HandleStatusCommand(cfg *config.Config, out io.Writer) {
	fmt.Fprintln(out, "PillPal Status")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Version: %s\n", Version)
	fmt.Fprintf(out, "Data:    %s\n", cfg.Storage.DataDir)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Server Configuration:")
	fmt.Fprintf(out, "  Address: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Fprintf(out, "  JWT secret: %s\n", maskToken(cfg.Security.JWTSecret))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Reminders:")
	fmt.Fprintf(out, "  Timezone: %s\n", cfg.Reminders.Timezone)
	fmt.Fprintf(out, "  Horizon:  %d days\n", cfg.Reminders.HorizonDays)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Channels:")
	fmt.Fprintf(out, "  Telegram:  %s\n", channelStatus(cfg.Channels.Telegram.Enabled))
	if cfg.Channels.Telegram.Enabled {
		fmt.Fprintf(out, "    Bot Token: %s\n", maskToken(cfg.Channels.Telegram.BotToken))
	}
	fmt.Fprintf(out, "  Discord:   %s\n", channelStatus(cfg.Channels.Discord.Enabled))
	if cfg.Channels.Discord.Enabled {
		fmt.Fprintf(out, "    Token: %s\n", maskToken(cfg.Channels.Discord.Token))
	}
	fmt.Fprintf(out, "  WebSocket: %s\n", channelStatus(cfg.Channels.WebSocket.Enabled))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Interaction lookups:")
	if providers := cfg.ConfiguredProviders(); len(providers) > 0 {
		names := make([]string, 0, len(providers))
		for name := range providers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "  Default: %s\n", cfg.LLM.DefaultProvider)
		fmt.Fprintf(out, "  Providers: %s\n", strings.Join(names, ", "))
	} else {
		fmt.Fprintln(out, "  ❌ no provider configured")
	}
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// PrintHelp prints command usage
func PrintHelp(out io.Writer) {
	fmt.Fprintf(out, `PillPal %s - medication reminders and adherence

Usage:
  pillpal [flags] [command]       Flags go before the command
  pillpal serve [flags]           Run the API server
  pillpal resync -patient ID      Rebuild a patient's reminders
  pillpal report -patient ID      Print a monthly adherence report
         [-month YYYY-MM] [-format table|json|yaml]
  pillpal status                  Show configuration
  pillpal version                 Show version

Flags:
  -config PATH   Path to config file
  -data PATH     Path to data directory
  -debug         Development logging
`, Version)
}
