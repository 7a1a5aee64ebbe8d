package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/upb/chat-relay/app"
	"github.com/upb/chat-relay/services/chat"
	"github.com/upb/chat-relay/services/rag"
)

var chatRAG bool

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the model in the terminal",
	Long: `Starts an interactive session whose history is replayed on every turn.
Replies are streamed as they arrive. Type /help for commands.`,
	RunE: runChatCmd,
}

func init() {
	chatCmd.Flags().BoolVar(&chatRAG, "rag", false, "augment each prompt with the closest stored chunk")
	rootCmd.AddCommand(chatCmd)
}

func runChatCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// Logs share the terminal with the conversation, keep them quiet by default
	cfg, logger, err := loadRuntime(ctx, "error")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	mode := rag.ModeChat
	if chatRAG {
		mode = rag.ModeRAG
	}

	repl := newChatREPL(deps.Driver, deps.Sessions.Create(), mode, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	return repl.run(ctx)
}

// turnRunner executes one chat turn
type turnRunner interface {
	Turn(ctx context.Context, sess *chat.Session, prompt string, mode rag.Mode, onToken func(string) error, opts ...chat.TurnOption) (*chat.TurnResult, error)
}

// chatREPL reads prompts line by line and streams replies to out.
// Notices and errors go to errOut.
type chatREPL struct {
	driver  turnRunner
	session *chat.Session
	mode    rag.Mode
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
}

func newChatREPL(driver turnRunner, session *chat.Session, mode rag.Mode, in io.Reader, out, errOut io.Writer) *chatREPL {
	return &chatREPL{
		driver:  driver,
		session: session,
		mode:    mode,
		in:      in,
		out:     out,
		errOut:  errOut,
	}
}

func (r *chatREPL) run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprintln(r.out, hintStyle.Render(fmt.Sprintf("mode: %s. /help for commands.", r.mode)))

	for {
		fmt.Fprint(r.out, userStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, hintStyle.Render("/rag toggles augmentation, /clear drops the history, /quit exits"))
			continue
		case "/clear":
			r.session.Clear()
			fmt.Fprintln(r.out, hintStyle.Render("history cleared"))
			continue
		case "/rag":
			if r.mode == rag.ModeRAG {
				r.mode = rag.ModeChat
			} else {
				r.mode = rag.ModeRAG
			}
			fmt.Fprintln(r.out, hintStyle.Render(fmt.Sprintf("mode: %s", r.mode)))
			continue
		}

		if err := r.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(r.errOut, errorStyle.Render("error: "+err.Error()))
		}
	}
}

func (r *chatREPL) turn(ctx context.Context, prompt string) error {
	started := false
	start := func() {
		if !started {
			fmt.Fprint(r.out, assistantStyle.Render("assistant> "))
			started = true
		}
	}

	result, err := r.driver.Turn(ctx, r.session, prompt, r.mode,
		func(token string) error {
			start()
			_, err := io.WriteString(r.out, token)
			return err
		},
		chat.WithNoticeHandler(func(notice rag.Notice) error {
			_, err := fmt.Fprintln(r.errOut, noticeStyle.Render("warning: "+notice.Message))
			return err
		}),
	)

	if err == nil {
		start()
	}
	if started {
		fmt.Fprintln(r.out)
	}
	if err != nil && result != nil && result.Partial {
		fmt.Fprintln(r.errOut, noticeStyle.Render("warning: reply was cut off"))
	}
	return err
}
