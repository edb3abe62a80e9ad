// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package console is the operator console: a line-oriented control prompt
// on stdin and a platform.Platform that delivers the operator's messages to
// the bot and prints its replies in the terminal.
//
// Replies are rendered as markdown with glamour when stdout is a terminal
// and printed verbatim otherwise.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/meri-bot/internal/platform"
	"github.com/jeranaias/meri-bot/internal/util"
)

// ChannelID is the channel every console message belongs to.
const ChannelID = "console"

// SelfID is the bot's user ID on the console platform.
const SelfID = "console-bot"

// Status is what the status command reports.
type Status struct {
	Platform      string
	Model         string
	Uptime        time.Duration
	InFlight      int
	Offline       bool
	Conversations map[string]int // store name to stored users
}

// Options configures a Console.
type Options struct {
	In  io.Reader // default os.Stdin
	Out io.Writer // default os.Stdout

	// OperatorID is the author ID of messages typed at the console.
	OperatorID   string
	OperatorName string

	// Prefix lets lines starting with the bot's command prefix be sent
	// without "say".
	Prefix string

	// HistoryFile stores line-editor history when stdin is a terminal.
	HistoryFile string

	Status func() Status
	Logger *slog.Logger
}

// Console implements platform.Platform on the local terminal.
type Console struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	operatorID   string
	operatorName string
	prefix       string
	historyFile  string
	status       func() Status
	logger       *slog.Logger

	st styles
	md markdown

	mu         sync.Mutex
	handler    platform.Handler
	handlerCtx context.Context
	messages   map[string]string
	nextID     int
	nextInput  int
}

// New creates a console.
func New(opts Options) *Console {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.OperatorID == "" {
		opts.OperatorID = "operator"
	}
	if opts.OperatorName == "" {
		opts.OperatorName = "operator"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	profile := colorProfile(opts.Out)
	renderer := lipgloss.NewRenderer(opts.Out)
	renderer.SetColorProfile(profile)

	return &Console{
		in:           opts.In,
		out:          opts.Out,
		interactive:  isTerminal(opts.In) && isTerminal(opts.Out),
		operatorID:   opts.OperatorID,
		operatorName: opts.OperatorName,
		prefix:       opts.Prefix,
		historyFile:  opts.HistoryFile,
		status:       opts.Status,
		logger:       opts.Logger.With(slog.String("component", "console")),
		st:           newStyles(renderer),
		md:           newMarkdown(profile, width(opts.Out)-4),
		messages:     make(map[string]string),
	}
}

// =============================================================================
// PLATFORM
// =============================================================================

// Name implements platform.Platform.
func (c *Console) Name() string { return "console" }

// SelfID implements platform.Platform.
func (c *Console) SelfID() string { return SelfID }

// BufferedOnly reports that an edit reprints the whole message, so relayed
// responses should be posted one finished part at a time.
func (c *Console) BufferedOnly() bool { return true }

// Start registers the handler for operator messages. Input is read by Run.
func (c *Console) Start(ctx context.Context, handler platform.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	c.handlerCtx = ctx
	return nil
}

// Close implements platform.Platform.
func (c *Console) Close() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

// Send implements platform.Messenger.
func (c *Console) Send(ctx context.Context, channelID, content string) (string, error) {
	return c.post("", content), nil
}

// Reply implements platform.Messenger.
func (c *Console) Reply(ctx context.Context, channelID, replyToID, content string) (string, error) {
	return c.post(replyToID, content), nil
}

// Edit implements platform.Messenger. The edited message is printed again.
func (c *Console) Edit(ctx context.Context, channelID, messageID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.messages[messageID]
	if !ok {
		return fmt.Errorf("unknown console message %s", messageID)
	}
	if prev == content {
		return nil
	}
	c.messages[messageID] = content
	c.printLocked(messageID, "edited", content)
	return nil
}

func (c *Console) post(replyTo, content string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("out-%d", c.nextID)
	c.messages[id] = content
	note := ""
	if replyTo != "" {
		note = "reply"
	}
	c.printLocked(id, note, content)
	return id
}

func (c *Console) printLocked(id, note, content string) {
	header := c.st.speaker.Render("meri") + " " + c.st.dim.Render("["+id+"]")
	if note != "" {
		header += " " + c.st.dim.Render("("+note+")")
	}
	fmt.Fprintln(c.out, header)
	fmt.Fprint(c.out, c.md.render(content))
}

// =============================================================================
// CONTROL PROMPT
// =============================================================================

// lineReader reads operator input.
type lineReader interface {
	read(prompt string) (string, error)
	close()
}

type linerReader struct {
	state       *liner.State
	historyFile string
}

func (r *linerReader) read(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		r.state.AppendHistory(line)
	}
	return line, nil
}

func (r *linerReader) close() {
	if r.historyFile != "" {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.state.WriteHistory(f)
			f.Close()
		}
	}
	r.state.Close()
}

type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) read(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) close() {}

func (c *Console) newReader() lineReader {
	if !c.interactive {
		return &scanReader{sc: bufio.NewScanner(c.in)}
	}
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	if c.historyFile != "" {
		if f, err := os.Open(c.historyFile); err == nil {
			state.ReadHistory(f)
			f.Close()
		}
	}
	return &linerReader{state: state, historyFile: c.historyFile}
}

// Run reads control commands until quit, end of input or ctx is done. It
// returns nil in all three cases; the caller decides what stopping means.
func (c *Console) Run(ctx context.Context) error {
	reader := c.newReader()
	defer reader.close()

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		prompt := c.st.prompt.Render("meri> ")
		for {
			line, err := reader.read(prompt)
			if err != nil {
				errs <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s\n", c.st.dim.Render("Operator console ready. Type 'help' for commands."))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("console input: %w", err)
		case line := <-lines:
			if c.Exec(ctx, line) {
				return nil
			}
		}
	}
}

// Exec runs one control command and reports whether the operator asked to
// quit.
func (c *Console) Exec(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "quit", "q", "exit":
		c.printf("%s\n", c.st.warning.Render("Shutting down..."))
		return true
	case "help", "h", "?":
		c.printHelp()
	case "status":
		c.printStatus()
	case "say":
		if rest == "" {
			c.printf("%s\n", c.st.warning.Render("Usage: say <message>"))
			return false
		}
		c.deliver(rest)
	default:
		if c.prefix != "" && strings.HasPrefix(line, c.prefix) {
			c.deliver(line)
			return false
		}
		c.printf("%s %s\n", c.st.errorS.Render("Unknown command:"), cmd)
		c.printf("%s\n", c.st.dim.Render("Type 'help' for available commands."))
	}
	return false
}

// deliver hands text to the bot as a message from the operator.
func (c *Console) deliver(text string) {
	c.mu.Lock()
	handler, ctx := c.handler, c.handlerCtx
	c.nextInput++
	id := fmt.Sprintf("in-%d", c.nextInput)
	c.mu.Unlock()

	if handler == nil {
		c.printf("%s\n", c.st.errorS.Render("The bot is not accepting console messages."))
		return
	}
	c.logger.Debug("operator message", slog.String("message_id", id))
	handler(ctx, &platform.Message{
		ID:         id,
		ChannelID:  ChannelID,
		AuthorID:   c.operatorID,
		AuthorName: c.operatorName,
		Content:    text,
		Timestamp:  time.Now(),
		Local:      true,
	})
}

func (c *Console) printHelp() {
	rows := [][2]string{
		{"say <message>", "send a message to the bot as the operator"},
		{"status", "show uptime, platform and stored conversations"},
		{"help, h", "show this help"},
		{"quit, q, exit", "shut the bot down gracefully"},
	}
	if c.prefix != "" {
		rows = append(rows, [2]string{c.prefix + "<command>", "run a bot command directly"})
	}
	col := 0
	for _, r := range rows {
		col = max(col, util.StringWidth(r[0]))
	}
	var b strings.Builder
	b.WriteString(c.st.prompt.Render("Console commands") + "\n")
	for _, r := range rows {
		b.WriteString("  " + c.st.value.Render(util.PadWidth(r[0], col+2)) + c.st.dim.Render(r[1]) + "\n")
	}
	c.printf("%s", b.String())
}

func (c *Console) printStatus() {
	if c.status == nil {
		c.printf("%s\n", c.st.dim.Render("No status available."))
		return
	}
	s := c.status()

	mode := c.st.success.Render("online")
	if s.Offline {
		mode = c.st.warning.Render("offline")
	}
	rows := [][2]string{
		{"Platform", s.Platform},
		{"Model", s.Model},
		{"Uptime", s.Uptime.Truncate(time.Second).String()},
		{"In flight", fmt.Sprint(s.InFlight)},
		{"Web access", mode},
	}
	names := make([]string, 0, len(s.Conversations))
	for name := range s.Conversations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, [2]string{"Store " + name, fmt.Sprintf("%d users", s.Conversations[name])})
	}

	valueWidth := width(c.out) - 18
	var b strings.Builder
	b.WriteString(c.st.prompt.Render("Status") + "\n")
	for _, r := range rows {
		b.WriteString("  " + c.st.label.Render(util.PadWidth(r[0], 14)) + " " + util.TruncateWidth(r[1], valueWidth) + "\n")
	}
	c.printf("%s", b.String())
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
