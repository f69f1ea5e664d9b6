/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/carverauto/fleetradar/pkg/models"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaComment    = "#6272A4"
)

const clearScreen = "\033[H\033[2J"

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan)).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground)).Padding(0, 1)
	offlineStyle = cellStyle.Foreground(lipgloss.Color(draculaComment))
	onlineBadge  = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)).Bold(true)
	offlineBadge = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true)
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)).Italic(true)
)

var fleetHeaders = []string{
	"NAME", "IDENTITY", "STATE", "CPU %", "MEM %", "DISK %", "UP Mbps", "DOWN Mbps", "CORES", "RAM GB", "LAST SEEN",
}

// RenderFleet draws the fleet view as a table in the order it was received.
func RenderFleet(nodes []models.MetricSnapshot) string {
	if len(nodes) == 0 {
		return emptyStyle.Render("no nodes reporting")
	}

	offline := make(map[int]bool, len(nodes))
	rows := make([][]string, 0, len(nodes))

	for i := range nodes {
		n := &nodes[i]
		offline[i] = n.IsOffline
		rows = append(rows, []string{
			n.DisplayName,
			n.Identity,
			state(n.IsOffline),
			percent(n.CPUPercent),
			percent(n.MemPercent),
			percent(n.DiskPercent),
			rate(n.NetUploadMbps),
			rate(n.NetDownloadMbps),
			strconv.Itoa(n.CPUCores),
			strconv.FormatFloat(n.TotalRAMGB, 'f', 1, 64),
			lastSeen(n.LastUpdated),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(fleetHeaders...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case offline[row]:
				return offlineStyle
			default:
				return cellStyle
			}
		})

	return t.String()
}

// RenderError formats a fetch failure.
func RenderError(err error) string {
	return errorStyle.Render("error: " + err.Error())
}

func state(isOffline bool) string {
	if isOffline {
		return offlineBadge.Render("offline")
	}

	return onlineBadge.Render("online")
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func rate(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func lastSeen(ts models.Timestamp) string {
	if ts.IsZero() {
		return "never"
	}

	return fmt.Sprintf("%s ago", time.Since(ts.Time()).Truncate(time.Second))
}
