package tui

import (
	"testing"
	"time"

	"analysisops/internal/config"
	"analysisops/ui/tui/state"

	tea "github.com/charmbracelet/bubbletea"
)

func TestMenuNavigation(t *testing.T) {
	model := InitialModel(&MockBackend{}, config.Default().Query)

	// Initial state
	if model.menuCursor != 0 {
		t.Errorf("Expected initial menu cursor 0, got %d", model.menuCursor)
	}
	if model.state.CurrentPage != state.PageMenu {
		t.Errorf("Expected initial page PageMenu, got %v", model.state.CurrentPage)
	}
	if model.state.Session.State != "disconnected" {
		t.Errorf("Expected disconnected session, got %q", model.state.Session.State)
	}

	// Test Down Navigation
	cmd := tea.KeyMsg{Type: tea.KeyDown, Runes: []rune{}, Alt: false}
	updatedModel, _ := model.Update(cmd)
	m := updatedModel.(*MainModel)

	if m.menuCursor != 1 {
		t.Errorf("Expected menu cursor 1 after Down key, got %d", m.menuCursor)
	}

	// Test Up Navigation
	cmd = tea.KeyMsg{Type: tea.KeyUp, Runes: []rune{}, Alt: false}
	updatedModel, _ = m.Update(cmd)
	m = updatedModel.(*MainModel)

	if m.menuCursor != 0 {
		t.Errorf("Expected menu cursor 0 after Up key, got %d", m.menuCursor)
	}

	// The cursor stops at the last entry
	for i := 0; i < 10; i++ {
		m.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if m.menuCursor != 5 {
		t.Errorf("Expected menu cursor 5 at the bottom, got %d", m.menuCursor)
	}
}

func TestMenuAnimationLogic(t *testing.T) {
	model := InitialModel(&MockBackend{}, config.Default().Query)

	// Move cursor to 1
	model.menuCursor = 1

	// Initial animation cursor should be 0
	if model.animCursor != 0 {
		t.Errorf("Expected initial animCursor 0, got %f", model.animCursor)
	}

	// The spring physics should move animCursor towards menuCursor (1.0)
	animateMsg := AnimateMsg(time.Now())
	updatedModel, _ := model.Update(animateMsg)
	m := updatedModel.(*MainModel)

	if m.animCursor <= 0 {
		t.Errorf("Expected animCursor to increase after animation frame, got %f", m.animCursor)
	}
	if m.animCursor >= 1.0 {
		t.Errorf("Expected animCursor to not reach target immediately, got %f", m.animCursor)
	}

	updatedModel, _ = m.Update(animateMsg)
	m = updatedModel.(*MainModel)
	prevCursor := m.animCursor

	updatedModel, _ = m.Update(animateMsg)
	m = updatedModel.(*MainModel)

	if m.animCursor <= prevCursor {
		t.Errorf("Expected animCursor to continue increasing, got %f (prev %f)", m.animCursor, prevCursor)
	}
}

func TestPageTransition(t *testing.T) {
	tests := []struct {
		cursor int
		page   state.Page
	}{
		{0, state.PageSession},
		{1, state.PageQuery},
		{2, state.PageExport},
		{3, state.PageDeploy},
		{4, state.PageConsole},
		{5, state.PageJobs},
	}
	for _, tt := range tests {
		model := InitialModel(&MockBackend{}, config.Default().Query)
		model.menuCursor = tt.cursor
		updatedModel, _ := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m := updatedModel.(*MainModel)

		if m.state.CurrentPage != tt.page {
			t.Errorf("cursor %d: expected page %v, got %v", tt.cursor, tt.page, m.state.CurrentPage)
		}

		// Esc returns to the menu from every page
		updatedModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		m = updatedModel.(*MainModel)
		if m.state.CurrentPage != state.PageMenu {
			t.Errorf("cursor %d: expected PageMenu after esc, got %v", tt.cursor, m.state.CurrentPage)
		}
	}
}

func TestConsoleBackKey(t *testing.T) {
	model := InitialModel(&MockBackend{}, config.Default().Query)
	model.menuCursor = 4
	updatedModel, _ := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m := updatedModel.(*MainModel)

	if m.state.CurrentPage != state.PageConsole {
		t.Fatalf("Expected page to change to PageConsole, got %v", m.state.CurrentPage)
	}

	// Go Back
	updatedModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'b'}})
	m = updatedModel.(*MainModel)

	if m.state.CurrentPage != state.PageMenu {
		t.Errorf("Expected page to change back to PageMenu, got %v", m.state.CurrentPage)
	}
}

func TestFormPagesTakeTypedKeys(t *testing.T) {
	model := InitialModel(&MockBackend{}, config.Default().Query)
	model.state.CurrentPage = state.PageSession

	// 'q' and 'b' are text on a form page, not quit or back
	for _, r := range "qb.example" {
		model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if model.quitting || model.state.CurrentPage != state.PageSession {
		t.Fatalf("form keys were treated as commands: quitting=%v page=%v", model.quitting, model.state.CurrentPage)
	}
	if got := model.forms[state.PageSession].Value("host"); got != "qb.example" {
		t.Errorf("Expected host %q, got %q", "qb.example", got)
	}
}
