// Command queuectl is the read-only operator dashboard over the queue: a
// one-shot colorized status line for scripting, or a live bubbletea
// dashboard under --watch on a TTY.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"runloop/internal/nscache"
	"runloop/internal/queue"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("queuectl")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Read-only dashboard over the task queue",
	}
	root.PersistentFlags().String("store", "memory", "Queue store backend: memory|file|postgres")
	root.PersistentFlags().String("state-dir", ".claude/state", "State directory for the file store")
	root.PersistentFlags().String("db-dsn", "", "Postgres DSN, required when --store=postgres")
	root.PersistentFlags().String("namespace", "default", "Namespace used to open the store")
	_ = v.BindPFlags(root.PersistentFlags())

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show namespaces, runners, and in-flight tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			return runStatus(v, watch)
		},
	}
	statusCmd.Flags().Bool("watch", false, "Live-refresh on a TTY instead of printing once")
	root.AddCommand(statusCmd)

	return root
}

func openStore(v *viper.Viper) (queue.Store, error) {
	ctx := context.Background()
	namespace := v.GetString("namespace")
	switch v.GetString("store") {
	case "memory":
		return queue.NewMemoryStore(namespace, time.Now), nil
	case "file":
		return queue.NewFileStore(v.GetString("state-dir"), namespace, time.Now)
	case "postgres":
		dsn := v.GetString("db-dsn")
		if dsn == "" {
			return nil, fmt.Errorf("--db-dsn is required for --store=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return queue.NewPostgresStore(pool, namespace, time.Now), nil
	default:
		return nil, fmt.Errorf("unknown --store %q (want memory|file|postgres)", v.GetString("store"))
	}
}

func runStatus(v *viper.Viper, watch bool) error {
	store, err := openStore(v)
	if err != nil {
		return err
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	if watch && isTTY {
		return runWatchDashboard(store)
	}

	summaries, err := fetchSummaries(context.Background(), store)
	if err != nil {
		return err
	}
	printSummaryTable(summaries)
	return nil
}

func fetchSummaries(ctx context.Context, store queue.Store) ([]queue.NamespaceSummary, error) {
	return store.GetAllNamespaces(ctx)
}

func printSummaryTable(summaries []queue.NamespaceSummary) {
	headerColor := color.New(color.FgCyan, color.Bold)
	headerColor.Printf("%-20s %10s %10s %10s\n", "NAMESPACE", "TASKS", "RUNNERS", "ALIVE")
	for _, s := range summaries {
		aliveColor := color.New(color.FgGreen)
		if s.AliveRunnerCount == 0 {
			aliveColor = color.New(color.FgRed)
		}
		fmt.Printf("%-20s %10d %10d ", s.Namespace, s.TaskCount, s.RunnerCount)
		aliveColor.Printf("%10d\n", s.AliveRunnerCount)
	}
	if len(summaries) == 0 {
		color.New(color.FgHiBlack).Println("(no namespaces)")
	}
}

// runWatchDashboard runs a live bubbletea dashboard, re-fetching namespace
// summaries on a fixed tick. A failed fetch leaves the previous rows on
// screen; each successful fetch is also stored in nscache.
func runWatchDashboard(store queue.Store) error {
	cache, err := nscache.New(32)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newDashboardModel(store, cache))
	_, err = p.Run()
	return err
}

type tickMsg time.Time

type summariesMsg struct {
	summaries []queue.NamespaceSummary
	err       error
}

type dashboardModel struct {
	store    queue.Store
	cache    *nscache.Cache
	table    table.Model
	lastErr  error
	quitting bool
}

func newDashboardModel(store queue.Store, cache *nscache.Cache) dashboardModel {
	columns := []table.Column{
		{Title: "NAMESPACE", Width: 24},
		{Title: "TASKS", Width: 8},
		{Title: "RUNNERS", Width: 8},
		{Title: "ALIVE", Width: 8},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(12))
	t.SetStyles(table.Styles{
		Header:   dashHeaderStyle,
		Selected: lipgloss.NewStyle(),
	})
	return dashboardModel{store: store, cache: cache, table: t}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) fetch() tea.Cmd {
	return func() tea.Msg {
		summaries, err := m.store.GetAllNamespaces(context.Background())
		return summariesMsg{summaries: summaries, err: err}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case summariesMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		rows := make([]table.Row, 0, len(msg.summaries))
		for _, s := range msg.summaries {
			m.cache.Put(s.Namespace, s)
			alive := fmt.Sprintf("%d", s.AliveRunnerCount)
			if s.AliveRunnerCount == 0 {
				alive = dashDeadStyle.Render(alive)
			} else {
				alive = dashAliveStyle.Render(alive)
			}
			rows = append(rows, table.Row{s.Namespace, fmt.Sprintf("%d", s.TaskCount), fmt.Sprintf("%d", s.RunnerCount), alive})
		}
		m.table.SetRows(rows)
	}
	return m, nil
}

var (
	dashHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dashAliveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dashDeadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dashDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (m dashboardModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(dashDeadStyle.Render("store error: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString(dashDimStyle.Render("q to quit") + "\n")
	return b.String()
}
