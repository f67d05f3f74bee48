package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/broadcast"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/schedule"
	"github.com/rsysganeshpatwa/video-scheduler-backend/internal/timeline"
)

var (
	compileAt  string
	compileOut string
)

var compileCmd = &cobra.Command{
	Use:   "compile <YYYY-MM-DD>",
	Short: "Compile one day's schedule into a manifest without starting a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := args[0]

		loc, err := settings.Location()
		if err != nil {
			return err
		}
		watermark := time.Now()
		if compileAt != "" {
			watermark, err = time.Parse(time.RFC3339, compileAt)
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
		}

		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		compiler, err := newCompiler(loc)
		if err != nil {
			return err
		}

		var (
			m    *timeline.Manifest
			path string
		)
		if compileOut == "" {
			svc := broadcast.NewService(broadcast.Options{
				Store:       store,
				Compiler:    compiler,
				ManifestDir: settings.ManifestDir,
				Log:         log,
			})
			m, path, err = svc.Prepare(cmd.Context(), date, watermark)
		} else {
			var day schedule.DaySchedule
			day, err = store.Get(cmd.Context(), date)
			if err != nil {
				return fmt.Errorf("%w: %v", broadcast.ErrScheduleUnavailable, err)
			}
			path = compileOut
			m, err = compiler.CompileToFile(day, watermark, path)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries (events %v, filler %v) -> %s\n",
			date, len(m.Entries), m.Total(timeline.KindEvent), m.Total(timeline.KindFiller), path)
		return nil
	},
}

func init() {
	compileCmd.Flags().StringVar(&compileAt, "at", "", "watermark as RFC3339 (default now)")
	compileCmd.Flags().StringVar(&compileOut, "out", "", "manifest path (default MANIFEST_DIR/<date>.txt)")
}
