package visualize

import (
	"fmt"
	"strconv"

	"github.com/born-ml/transfer/internal/train"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// tableWithReds is a table whose flagged rows are rendered in red.
type tableWithReds struct {
	table *lgtable.Table
	count int
	reds  map[int]bool
}

func (t *tableWithReds) row(isRed bool, row ...string) {
	if isRed {
		t.reds[t.count] = true
	}
	t.table.Row(row...)
	t.count++
}

func newTableWithReds(headers []string, alignments ...lipgloss.Position) *tableWithReds {
	t := &tableWithReds{reds: make(map[int]bool)}
	t.table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case t.reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// className returns classes[i], or the index when out of range.
func className(classes []string, i int32) string {
	if i >= 0 && int(i) < len(classes) {
		return classes[i]
	}
	return strconv.Itoa(int(i))
}

// PredictionTable renders one row per prediction. Wrong predictions are red.
func PredictionTable(preds []train.Prediction, classes []string) string {
	t := newTableWithReds([]string{"#", "Example", "Label", "Predicted", "Confidence"},
		lipgloss.Right, lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	correct := 0
	for i, p := range preds {
		if p.Correct() {
			correct++
		}
		t.row(!p.Correct(),
			strconv.Itoa(i+1),
			strconv.Itoa(p.Index),
			className(classes, p.Label),
			className(classes, p.Predicted),
			fmt.Sprintf("%.1f%%", 100*p.Confidence))
	}
	return fmt.Sprintf("%s\n%d of %d correct\n", t.table.Render(), correct, len(preds))
}

// HistoryTable renders the per-epoch metrics. The best epoch by test
// accuracy is marked.
func HistoryTable(h *train.History) string {
	t := newTableWithReds([]string{"Epoch", "Train loss", "Test loss", "Test accuracy", "Time"},
		lipgloss.Right)
	best, _ := h.Best()
	if h != nil {
		for _, s := range h.Epochs {
			mark := ""
			if s.Epoch == best.Epoch {
				mark = " *"
			}
			t.row(false,
				strconv.Itoa(s.Epoch)+mark,
				fmt.Sprintf("%.3f", s.TrainLoss),
				fmt.Sprintf("%.3f", s.TestLoss),
				fmt.Sprintf("%.0f%%", s.TestAccuracy),
				humanize.FtoaWithDigits(s.Duration.Seconds(), 1)+"s")
		}
	}
	return t.table.Render()
}
