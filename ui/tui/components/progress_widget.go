package components

import (
	"fmt"

	"analysisops/ui/tui/styles"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const progressSamples = 31

// ProgressWidget charts the completion percentage of the running export.
type ProgressWidget struct {
	Chart   linechart.Model
	History []float64
	Rows    int64
	Width   int
	Height  int
}

func NewProgressWidget(width, height int) *ProgressWidget {
	// width, height, minX, maxX, minY, maxY
	lc := linechart.New(width, height, 0, progressSamples-1, 0, 100)
	return &ProgressWidget{
		Chart:   lc,
		History: make([]float64, 0, progressSamples),
		Width:   width,
		Height:  height,
	}
}

func (c *ProgressWidget) Init() tea.Cmd {
	return nil
}

// Push records a progress checkpoint. Percent is negative when the total is
// unknown; only the row count moves then.
func (c *ProgressWidget) Push(percent float64, rows int64) {
	c.Rows = rows
	if percent < 0 {
		return
	}
	if percent > 100 {
		percent = 100
	}
	c.History = append(c.History, percent)
	if len(c.History) > progressSamples {
		c.History = c.History[1:]
	}
}

// Reset clears the chart for a new export.
func (c *ProgressWidget) Reset() {
	c.History = c.History[:0]
	c.Rows = 0
}

// Last returns the latest percentage, or -1 before the first checkpoint.
func (c *ProgressWidget) Last() float64 {
	if len(c.History) == 0 {
		return -1
	}
	return c.History[len(c.History)-1]
}

func (c *ProgressWidget) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return c, nil
}

func (c *ProgressWidget) Resize(w, h int) {
	c.Width = w
	c.Height = h
	c.Chart.Resize(w, h)
}

func (c *ProgressWidget) View() string {
	c.Chart.Clear()
	for i := 0; i < len(c.History)-1; i++ {
		c.Chart.DrawBrailleLine(
			canvas.Float64Point{X: float64(i), Y: c.History[i]},
			canvas.Float64Point{X: float64(i + 1), Y: c.History[i+1]},
		)
	}
	c.Chart.DrawXYAxisAndLabel()

	title := fmt.Sprintf("Export progress • %d rows", c.Rows)
	if p := c.Last(); p >= 0 {
		title = fmt.Sprintf("Export progress • %.0f%% • %d rows", p, c.Rows)
	}
	return styles.CardStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Render(title),
			c.Chart.View(),
		),
	)
}
