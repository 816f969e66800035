package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"craftbot/internal/element"
	"craftbot/internal/recipe"
	"craftbot/internal/repository"
	"craftbot/internal/ui"
)

var queryCmd = &cobra.Command{
	Use:   "query [element]",
	Short: "Show the full recipe of an element",
	Long: `Prints every combination step needed to craft an element from the four
roots, shortest known path first ingredient-wise. Apostrophe and
capitalization variants of the name are matched automatically.

With no argument an interactive prompt opens; enter element names, Esc quits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(false)
	if err != nil {
		return err
	}
	defer repo.Close()

	pathMap, err := repo.LoadPaths()
	if err != nil {
		return err
	}
	if len(pathMap) == 0 {
		return fmt.Errorf("no paths computed yet; run 'craftbot paths' first")
	}
	emojis, err := loadEmojis(repo)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		out, err := formatRecipe(args[0], pathMap, emojis)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	input := textinput.New()
	input.Placeholder = "element name"
	input.Focus()

	model := queryModel{input: input, paths: pathMap, emojis: emojis}
	_, err = tea.NewProgram(model, tea.WithContext(cmd.Context())).Run()
	return err
}

// loadEmojis builds the name -> emoji table used to decorate recipe steps.
func loadEmojis(repo repository.Repository) (map[string]string, error) {
	elements, err := repo.LoadElements()
	if err != nil {
		return nil, err
	}
	emojis := make(map[string]string, len(elements))
	for _, el := range elements {
		emojis[el.Text] = el.Emoji
	}
	return emojis, nil
}

// formatRecipe resolves the name and renders its steps.
func formatRecipe(name string, pathMap map[string]element.Path, emojis map[string]string) (string, error) {
	resolved, ok := recipe.Resolve(name, pathMap)
	if !ok {
		return "", &recipe.ErrUnknownElement{Name: name}
	}

	steps, err := recipe.FullRecipe(resolved, pathMap)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if resolved != name {
		fmt.Fprintf(&b, "%s:\n", resolved)
	}
	if len(steps) == 0 {
		fmt.Fprintf(&b, "%s is a root element, nothing to craft\n", resolved)
		return b.String(), nil
	}
	ui.RenderSteps(&b, steps, emojis)
	return b.String(), nil
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// queryModel is the interactive prompt: one text input, last answer below.
type queryModel struct {
	input  textinput.Model
	paths  map[string]element.Path
	emojis map[string]string
	out    string
}

func (m queryModel) Init() tea.Cmd { return textinput.Blink }

func (m queryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			name := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if name == "" {
				return m, nil
			}
			out, err := formatRecipe(name, m.paths, m.emojis)
			if err != nil {
				m.out = errStyle.Render(err.Error()) + "\n"
			} else {
				m.out = out
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m queryModel) View() string {
	var b strings.Builder
	b.WriteString(promptStyle.Render("Which element?"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.out)
	return b.String()
}
