// Command playbookctl is an operator terminal UI that tails one
// playbook execution's SSE stream (spec.md §6,
// GET /workspaces/:wid/executions/:eid/stream) and renders each event as
// it arrives. Model/Program shape grounded on the teacher pack's
// charm.land/bubbletea/v2 TUI (teradata-labs-loom's cmd/loom/main.go:
// build a model, hand it a channel a background goroutine feeds via
// program.Send, run with tea.NewProgram(...).Run()).
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

func main() {
	addr := flag.String("addr", getEnv("PLAYBOOKCTL_ADDR", "http://localhost:8080"), "playbookengine base URL")
	workspaceID := flag.String("workspace", os.Getenv("PLAYBOOKCTL_WORKSPACE"), "workspace id")
	executionID := flag.String("execution", os.Getenv("PLAYBOOKCTL_EXECUTION"), "execution id to tail")
	token := flag.String("token", os.Getenv("PLAYBOOKCTL_TOKEN"), "bearer token (optional)")
	flag.Parse()

	if *workspaceID == "" || *executionID == "" {
		fmt.Fprintln(os.Stderr, "playbookctl: -workspace and -execution are required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	model := newModel(*workspaceID, *executionID)
	program := tea.NewProgram(model, tea.WithEnvironment(os.Environ()))

	go tailStream(ctx, program, streamConfig{
		baseURL:     *addr,
		workspaceID: *workspaceID,
		executionID: *executionID,
		token:       *token,
	})

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "playbookctl: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// streamEventMsg wraps one decoded SSE event for the bubbletea update loop.
type streamEventMsg struct {
	typ  string
	data map[string]interface{}
}

// streamErrMsg reports a tail-connection failure; the model keeps
// running and displays it rather than exiting, since a transient
// disconnect is expected across long executions.
type streamErrMsg struct{ err error }

type streamConfig struct {
	baseURL     string
	workspaceID string
	executionID string
	token       string
}

// tailStream connects to the SSE endpoint and pushes every frame into
// program via Send, reconnecting with backoff until ctx is cancelled.
func tailStream(ctx context.Context, program *tea.Program, cfg streamConfig) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := tailOnce(ctx, program, cfg); err != nil {
			program.Send(streamErrMsg{err: err})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 15*time.Second {
			backoff *= 2
		}
	}
}

func tailOnce(ctx context.Context, program *tea.Program, cfg streamConfig) error {
	url := fmt.Sprintf("%s/workspaces/%s/executions/%s/stream", cfg.baseURL, cfg.workspaceID, cfg.executionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			continue
		}
		var envelope map[string]interface{}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		typ, _ := envelope["type"].(string)
		program.Send(streamEventMsg{typ: typ, data: envelope})
		if typ == "stream_end" {
			return nil
		}
	}
	return scanner.Err()
}

// model is the bubbletea.Model for the execution tail view: a scrolling
// log of rendered events plus a one-line status footer.
type model struct {
	workspaceID string
	executionID string
	lines       []string
	lastErr     error
	width       int
	height      int
	log         viewport.Model
}

func newModel(workspaceID, executionID string) model {
	return model{workspaceID: workspaceID, executionID: executionID, log: viewport.New()}
}

func (m model) Init() tea.Cmd {
	return m.log.Init()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.SetWidth(m.width)
		m.log.SetHeight(m.height - 4)
		m.log.SetContent(strings.Join(m.lines, "\n"))
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	case streamEventMsg:
		m.lines = append(m.lines, renderEvent(msg))
		if max := 500; len(m.lines) > max {
			m.lines = m.lines[len(m.lines)-max:]
		}
		m.log.SetContent(strings.Join(m.lines, "\n"))
		m.log.GotoBottom()
		return m, nil
	case streamErrMsg:
		m.lastErr = msg.err
		m.lines = append(m.lines, statusStyle.Render(fmt.Sprintf("[reconnecting] %v", msg.err)))
		m.log.SetContent(strings.Join(m.lines, "\n"))
		m.log.GotoBottom()
		return m, nil
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	typeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
)

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("playbookctl — workspace=%s execution=%s", m.workspaceID, m.executionID)))
	b.WriteString("\n\n")
	b.WriteString(m.log.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("q to quit, arrows/pgup/pgdn to scroll"))
	return b.String()
}

func renderEvent(e streamEventMsg) string {
	switch e.typ {
	case "execution_update":
		return typeStyle.Render("execution") + " " + fmt.Sprintf("status=%v step=%v/%v", e.data["status"], e.data["current_step_index"], e.data["total_steps"])
	case "step_update":
		return typeStyle.Render("step") + " " + fmt.Sprintf("#%v %v — %v", e.data["step_index"], e.data["step_name"], e.data["status"])
	case "tool_call_update":
		return typeStyle.Render("tool") + " " + fmt.Sprintf("%v — %v", e.data["tool_name"], e.data["status"])
	case "stage_result":
		return typeStyle.Render("stage") + " " + fmt.Sprintf("%v", e.data["stage_name"])
	case "execution_chat":
		return typeStyle.Render("chat") + " " + fmt.Sprintf("%v: %v", e.data["role"], e.data["content"])
	case "execution_completed":
		return statusStyle.Render(fmt.Sprintf("completed: %v", e.data["status"]))
	case "error":
		return statusStyle.Render(fmt.Sprintf("error: %v", e.data["message"]))
	case "stream_end":
		return statusStyle.Render("stream ended")
	default:
		return fmt.Sprintf("%s %v", e.typ, e.data)
	}
}
