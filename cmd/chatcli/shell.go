package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/chat"
	"PolyChat/pkg/client"
	svc "PolyChat/pkg/services"
	"PolyChat/pkg/state"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true)
)

const helpText = `Commands:
  /signup <email>      create an account and sign in
  /login <email>       sign in
  /logout              sign out
  /list                list conversations
  /new [title]         start a conversation
  /open <n|id>         open a conversation from /list
  /history             print the open conversation
  /models              list models
  /model <id>          switch model
  /rename <title>      rename the open conversation
  /delete              delete the open conversation
  /attach <path>       upload a file and attach it to the next message
  /dark                toggle dark mode preference
  /help                this text
  /quit                exit
Anything else is sent to the open conversation.`

type shell struct {
	api  *client.Client
	sess *chat.Session
	out  io.Writer

	// readSecret prompts without echo.
	readSecret func(prompt string) (string, error)

	pendingFile *string
}

func newShell(api *client.Client, out io.Writer, readSecret func(string) (string, error)) *shell {
	return &shell{
		api:        api,
		sess:       chat.New(api, state.New()),
		out:        out,
		readSecret: readSecret,
	}
}

func (s *shell) prompt() string {
	st := s.sess.Store().Snapshot()
	if !st.Authenticated {
		return promptStyle.Render("polychat> ")
	}
	name := "no chat"
	if c, ok := st.CurrentConversation(); ok {
		name = c.Title
	}
	return promptStyle.Render(fmt.Sprintf("[%s · %s]> ", name, st.Model))
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) warn(err error) {
	s.printf("%s\n", warningStyle.Render(apperr.ReasonOf(err)))
}

// exec runs one input line. It returns true when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printf("%s\n", helpText)
	case "/signup":
		err = s.auth(ctx, arg, true)
	case "/login":
		err = s.auth(ctx, arg, false)
	case "/logout":
		err = s.sess.SignOut(ctx)
		s.pendingFile = nil
		if err == nil {
			s.printf("%s\n", infoStyle.Render("signed out"))
		}
	case "/list":
		if err = s.sess.Refresh(ctx); err == nil {
			s.list()
		}
	case "/new":
		var conv *models.Conversation
		if conv, err = s.sess.NewConversation(ctx, arg); err == nil {
			s.printf("%s\n", infoStyle.Render("opened "+conv.Title))
		}
	case "/open":
		err = s.open(ctx, arg)
	case "/history":
		s.history()
	case "/models":
		s.listModels()
	case "/model":
		if err = s.sess.SetModel(ctx, arg); err == nil {
			s.printf("%s\n", infoStyle.Render("model set to "+arg))
		}
	case "/rename":
		err = s.sess.Rename(ctx, arg)
	case "/delete":
		id := s.sess.Store().Snapshot().CurrentConversationID
		if id == "" {
			err = apperr.Validationf("no conversation open")
		} else {
			err = s.sess.Delete(ctx, id)
		}
	case "/attach":
		err = s.attach(ctx, arg)
	case "/dark":
		on := s.sess.Store().TogglePreference(state.PrefDarkMode)
		s.printf("%s\n", infoStyle.Render(fmt.Sprintf("dark mode: %v", on)))
	default:
		err = apperr.Validationf("unknown command %s (try /help)", cmd)
	}
	if err != nil {
		s.warn(err)
	}
	return false
}

func (s *shell) auth(ctx context.Context, email string, signup bool) error {
	if email == "" {
		return apperr.Validationf("usage: /login <email>")
	}
	pw, err := s.readSecret("password: ")
	if err != nil {
		return err
	}
	if signup {
		confirm, err := s.readSecret("confirm password: ")
		if err != nil {
			return err
		}
		err = s.sess.SignUp(ctx, email, pw, confirm)
		if err != nil {
			return err
		}
	} else if err := s.sess.SignIn(ctx, email, pw); err != nil {
		return err
	}
	st := s.sess.Store().Snapshot()
	s.printf("%s\n", infoStyle.Render(fmt.Sprintf("signed in as %s, %d conversation(s)", st.User.Email, len(st.Conversations))))
	return nil
}

func (s *shell) list() {
	st := s.sess.Store().Snapshot()
	if len(st.Conversations) == 0 {
		s.printf("%s\n", infoStyle.Render("no conversations yet; /new to start one"))
		return
	}
	for i, c := range st.Conversations {
		mark := " "
		if c.ID == st.CurrentConversationID {
			mark = "*"
		}
		s.printf("%s %2d. %s %s\n", mark, i+1, titleStyle.Render(c.Title), infoStyle.Render("("+c.Model+") "+truncate(c.LastMessage, 48)))
	}
}

func (s *shell) open(ctx context.Context, arg string) error {
	st := s.sess.Store().Snapshot()
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(st.Conversations) {
			return apperr.Validationf("no conversation #%d", n)
		}
		id = st.Conversations[n-1].ID
	}
	if id == "" {
		return apperr.Validationf("usage: /open <n|id>")
	}
	if err := s.sess.Select(ctx, id); err != nil {
		return err
	}
	s.history()
	return nil
}

func (s *shell) history() {
	st := s.sess.Store().Snapshot()
	if st.CurrentConversationID == "" {
		s.printf("%s\n", infoStyle.Render("no conversation open"))
		return
	}
	for _, m := range st.Messages {
		who := titleStyle.Render("you")
		if m.Role == models.RoleAssistant {
			who = promptStyle.Render("ai")
		}
		s.printf("%s: %s\n", who, m.Content)
		if m.FileURL != nil {
			s.printf("     %s\n", infoStyle.Render("attachment: "+*m.FileURL))
		}
	}
}

func (s *shell) listModels() {
	current := s.sess.Store().Snapshot().Model
	for _, m := range models.Catalog() {
		mark := " "
		if m.ID == current {
			mark = "*"
		}
		s.printf("%s %-15s %s\n", mark, m.ID, infoStyle.Render(m.Description))
	}
}

func (s *shell) attach(ctx context.Context, path string) error {
	if path == "" {
		return apperr.Validationf("usage: /attach <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return apperr.Validationf("cannot open %s: %v", path, err)
	}
	defer f.Close()
	res, err := s.api.UploadAttachment(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	s.pendingFile = &res.FileURL
	s.printf("%s\n", infoStyle.Render("attached "+res.Filename+"; it goes with your next message"))
	return nil
}

// send streams the reply, printing only the newly arrived tail of each
// snapshot.
func (s *shell) send(ctx context.Context, text string) {
	printed := ""
	final, err := s.sess.Send(ctx, text, s.pendingFile, func(snap svc.Snapshot) {
		if snap.Error != "" {
			return
		}
		if strings.HasPrefix(snap.Content, printed) {
			s.printf("%s", snap.Content[len(printed):])
			printed = snap.Content
		}
	})
	if err != nil {
		if printed != "" {
			s.printf("\n")
		}
		s.warn(err)
		return
	}
	s.pendingFile = nil
	if final.Error != "" {
		if printed != "" {
			s.printf("\n")
		}
		s.printf("%s\n%s\n", final.Content, warningStyle.Render("model error: "+final.Error))
		return
	}
	s.printf("\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
