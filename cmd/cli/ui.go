package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/parMaster/meetsync/storage/model"
)

var statusColors = map[model.MeetingStatus]tcell.Color{
	model.StatusProcessing: tcell.ColorYellow,
	model.StatusFailed:     tcell.ColorRed,
	model.StatusSucceeded:  tcell.ColorGreen,
}

// ShowUI shows the local cache of the user, works offline
func (s *Commander) ShowUI(ctx context.Context, userId string) error {
	meetings, err := s.store.GetAll(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to read local meetings: %w", err)
	}
	markers, err := s.markers.ListMarkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending jobs: %w", err)
	}
	pending := map[string]bool{}
	for _, m := range markers {
		pending[m.EventId] = true
	}

	app := tview.NewApplication()
	table := tview.NewTable()
	table.SetBorders(true)

	for i, title := range []string{"Title", "EventId", "Date", "Start", "Status"} {
		table.SetCell(0, i,
			tview.NewTableCell(title).
				SetTextColor(tcell.ColorYellow).
				SetAlign(tview.AlignCenter))
	}

	for i, m := range meetings {
		table.SetCell(i+1, 0,
			tview.NewTableCell(m.Title).
				SetTextColor(tcell.ColorWhite).
				SetAlign(tview.AlignLeft))

		table.SetCell(i+1, 1,
			tview.NewTableCell(m.EventId).
				SetTextColor(tcell.ColorWhite).
				SetAlign(tview.AlignCenter))

		table.SetCell(i+1, 2,
			tview.NewTableCell(m.Date).
				SetTextColor(tcell.ColorDarkCyan).
				SetAlign(tview.AlignCenter))

		table.SetCell(i+1, 3,
			tview.NewTableCell(m.StartTime).
				SetTextColor(tcell.ColorDarkCyan).
				SetAlign(tview.AlignCenter))

		status := string(m.Status)
		if pending[m.EventId] {
			status += " (pending)"
		}
		table.SetCell(i+1, 4,
			tview.NewTableCell(status).
				SetTextColor(statusColors[m.Status]).
				SetAlign(tview.AlignLeft))
	}

	table.Select(0, 0).SetFixed(1, 1).SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			app.Stop()
		}
		if key == tcell.KeyEnter {
			table.SetSelectable(true, false)
		}
	}).SetSelectedFunc(func(row int, column int) {
		table.SetSelectable(false, false)
	})

	if err := app.SetRoot(table, true).EnableMouse(true).Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}

	log.Printf("[INFO] %d meetings, %d pending jobs", len(meetings), len(markers))
	return nil
}
