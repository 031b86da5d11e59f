package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/mbakker/convel-go/internal/assets"
)

// Theme holds the color scheme for interactive output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// progressMsg carries a download progress update
type progressMsg assets.Progress

// downloadDoneMsg signals that the install finished
type downloadDoneMsg struct {
	err error
}

// downloadModel is the bubbletea model for a model download.
type downloadModel struct {
	spec     assets.ModelSpec
	latest   assets.Progress
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newDownloadModel creates a new download progress model.
func newDownloadModel(spec assets.ModelSpec) downloadModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return downloadModel{
		spec:     spec,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m downloadModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m downloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case progressMsg:
		m.latest = assets.Progress(msg)
		return m, nil

	case downloadDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m downloadModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m downloadModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.spec.Name))

	var pct float64
	if m.latest.Total > 0 {
		pct = float64(m.latest.Downloaded) / float64(m.latest.Total)
	}

	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%s / %s", formatBytes(m.latest.Downloaded), formatBytes(m.latest.Total))
	if m.latest.SpeedMBps > 0 {
		counts += fmt.Sprintf("  %.1f MB/s  ETA %s", m.latest.SpeedMBps, m.latest.ETA.Round(time.Second))
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to cancel")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m downloadModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Download failed: %s\n", m.err))
	}

	var output string
	output += m.theme.completedStyle().Render("✓ Installed") + "\n\n"
	output += fmt.Sprintf("  Model:   %s %s\n", m.spec.Name, m.spec.Version)
	output += fmt.Sprintf("  Size:    %s\n", formatBytes(m.spec.SizeBytes))
	output += fmt.Sprintf("  Files:   %d\n", len(m.spec.Files))
	return output
}

// formatBytes renders a byte count for humans.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// RunDownloadProgress runs the interactive progress UI for a model install.
// The download itself runs in the background; cancelling the UI cancels it.
func RunDownloadProgress(ctx context.Context, d *assets.Downloader, spec assets.ModelSpec, modelsRoot string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newDownloadModel(spec))

	go func() {
		err := d.DownloadAndInstall(ctx, spec, modelsRoot, func(pr assets.Progress) {
			p.Send(progressMsg(pr))
		})
		p.Send(downloadDoneMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(downloadModel); ok {
		if m.quitting {
			return fmt.Errorf("download cancelled")
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
