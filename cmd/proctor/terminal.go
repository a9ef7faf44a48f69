package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// terminalEnv turns typed commands into environment signals.
type terminalEnv struct {
	mu   sync.Mutex
	next int
	subs map[int]func(session.Signal)
	out  io.Writer
}

func newTerminalEnv(out io.Writer) *terminalEnv {
	return &terminalEnv{subs: make(map[int]func(session.Signal)), out: out}
}

func (e *terminalEnv) Subscribe(fn func(session.Signal)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *terminalEnv) emit(kind session.SignalKind, detail string) {
	e.mu.Lock()
	subs := make([]func(session.Signal), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	sig := session.Signal{Kind: kind, Detail: detail, At: time.Now()}
	for _, fn := range subs {
		fn(sig)
	}
}

func (e *terminalEnv) RequestFullscreen() error {
	fmt.Fprintln(e.out, "[fullscreen restored]")
	e.emit(session.SignalFullscreenEnter, "dismiss")
	return nil
}

var signalCommands = map[string]session.SignalKind{
	"hide":     session.SignalHidden,
	"show":     session.SignalVisible,
	"blur":     session.SignalBlur,
	"focus":    session.SignalFocus,
	"fs-exit":  session.SignalFullscreenExit,
	"fs-enter": session.SignalFullscreenEnter,
}

const helpText = `commands:
  status                 show timer, counters and current question
  next | prev            move between questions
  answer <text>          answer the current question
  code <language>        enter source for the current question, end with a line "."
  run [input]            run the saved source against custom input
  test                   run the saved source against visible test cases
  dismiss                acknowledge a warning
  unlock <reason>        ask a proctor to unlock a locked attempt
  submit                 submit the attempt
  hide|show|blur|focus|fs-exit|fs-enter   simulate environment changes
  quit                   leave without submitting`

// terminal is the interactive loop around one controller.
type terminal struct {
	ctrl *session.Controller
	env  *terminalEnv
	in   *bufio.Scanner
	out  io.Writer
	mu   sync.Mutex
}

func newTerminal(ctrl *session.Controller, env *terminalEnv, in io.Reader, out io.Writer) *terminal {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &terminal{ctrl: ctrl, env: env, in: sc, out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// onEvent prints controller notifications. Ticks are only shown on whole
// minutes and during the final ten seconds.
func (t *terminal) onEvent(ev session.Event) {
	s := ev.Session
	switch ev.Kind {
	case session.EventTick:
		if s.RemainingSeconds%60 == 0 || s.RemainingSeconds <= 10 {
			t.printf("[time] %s remaining\n", formatRemaining(s.RemainingSeconds))
		}
	case session.EventStarted:
		t.printf("[started] %s, %d questions, %s remaining\n", s.Title, s.QuestionCount, formatRemaining(s.RemainingSeconds))
	case session.EventCountersUpdated:
		t.printf("[counters] tab switches %d, fullscreen exits %d\n", s.TabSwitchCount, s.FullscreenExitCount)
	case session.EventWarning:
		t.printf("[warning] %s (type \"dismiss\" to continue)\n", ev.Message)
	case session.EventLocked:
		t.printf("[locked] the exam is locked; type \"unlock <reason>\" to ask a proctor\n")
	case session.EventUnlockPending:
		t.printf("[unlock] request sent, waiting for a proctor\n")
	case session.EventUnlockRejected:
		t.printf("[unlock] request rejected: %s\n", ev.Message)
	case session.EventResumed:
		t.printf("[resumed] the exam is unlocked\n")
	case session.EventSubmitted:
		if s.Result != nil && s.Result.Score != nil {
			t.printf("[submitted] score %.2f\n", *s.Result.Score)
		} else {
			t.printf("[submitted]\n")
		}
	case session.EventSubmissionFailed:
		t.printf("[error] submission failed: %v\n", ev.Err)
	case session.EventSaveFailed:
		t.printf("[error] autosave failed: %v\n", ev.Err)
	}
}

// loop reads commands until quit, EOF or submission.
func (t *terminal) loop(ctx context.Context) error {
	t.printf("%s\n", helpText)
	t.showQuestion()
	for {
		t.printf("> ")
		if !t.in.Scan() {
			return t.in.Err()
		}
		line := strings.TrimSpace(t.in.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		if kind, ok := signalCommands[cmd]; ok {
			t.env.emit(kind, cmd)
			continue
		}

		done, err := t.dispatch(ctx, cmd, arg)
		if err != nil {
			t.printf("[error] %v\n", err)
		}
		if done {
			return nil
		}
		if t.ctrl.Snapshot().Status == model.AttemptStatusSubmitted {
			return nil
		}
	}
}

func (t *terminal) dispatch(ctx context.Context, cmd, arg string) (bool, error) {
	switch cmd {
	case "help":
		t.printf("%s\n", helpText)
	case "status":
		t.showStatus()
	case "next", "prev":
		dir := 1
		if cmd == "prev" {
			dir = -1
		}
		if _, err := t.ctrl.Advance(dir); err != nil {
			return false, err
		}
		t.showQuestion()
	case "answer":
		q := t.current()
		if q == nil {
			return false, errors.New("no question selected")
		}
		return false, t.ctrl.RecordAnswer(q.ID, arg)
	case "code":
		q := t.current()
		if q == nil {
			return false, errors.New("no question selected")
		}
		if arg == "" && len(q.Languages) > 0 {
			arg = q.Languages[0]
		}
		return false, t.ctrl.RecordCode(q.ID, t.readBlock(), arg)
	case "run", "test":
		return false, t.run(ctx, cmd == "test", arg)
	case "dismiss":
		return false, t.ctrl.DismissWarning()
	case "unlock":
		if arg == "" {
			return false, errors.New("a reason is required")
		}
		_, err := t.ctrl.RequestUnlock(ctx, arg)
		return false, err
	case "submit":
		_, err := t.ctrl.Submit(ctx, false)
		return err == nil, err
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type \"help\"", cmd)
	}
	return false, nil
}

// readBlock reads lines until a line holding a single ".".
func (t *terminal) readBlock() string {
	t.printf("(end with a line containing only \".\")\n")
	var b strings.Builder
	for t.in.Scan() {
		line := t.in.Text()
		if line == "." {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *terminal) run(ctx context.Context, withTests bool, input string) error {
	q := t.current()
	if q == nil || q.Kind != model.QuestionKindSourceCode {
		return errors.New("the current question does not take code")
	}
	saved, ok := t.ctrl.Answer(q.ID)
	if !ok || saved.Value == "" {
		return errors.New("enter code first with \"code <language>\"")
	}

	var in *string
	if !withTests {
		in = &input
	}
	out, err := t.ctrl.Run(ctx, q.ID, saved.Value, saved.LanguageTag, in, withTests)
	if err != nil {
		return err
	}
	if out.Custom != nil {
		t.printf("status: %s\n", out.Custom.StatusDescription)
		if out.Custom.CompileOutput != "" {
			t.printf("compile:\n%s\n", out.Custom.CompileOutput)
		}
		t.printf("stdout:\n%s", out.Custom.Stdout)
		if out.Custom.Stderr != "" {
			t.printf("stderr:\n%s", out.Custom.Stderr)
		}
	}
	if out.Tests != nil {
		for i, r := range out.Tests.Results {
			mark := "FAIL"
			if r.Passed {
				mark = "ok"
			}
			t.printf("case %d: %s\n", i+1, mark)
		}
		t.printf("passed %d/%d\n", out.Tests.Summary.Passed, out.Tests.Summary.Total)
	}
	return out.Err()
}

func (t *terminal) current() *model.QuestionForStudent {
	def := t.ctrl.Definition()
	if def == nil {
		return nil
	}
	idx := t.ctrl.Snapshot().CurrentQuestion
	if idx < 0 || idx >= len(def.Questions) {
		return nil
	}
	return &def.Questions[idx]
}

func (t *terminal) showQuestion() {
	q := t.current()
	if q == nil {
		return
	}
	s := t.ctrl.Snapshot()
	t.printf("\nQuestion %d/%d [%s]\n%s\n", s.CurrentQuestion+1, s.QuestionCount, q.Kind, q.QuestionText)
	if len(q.Options) > 0 {
		var opts []struct {
			Key  string `json:"key"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(q.Options, &opts); err == nil {
			for _, o := range opts {
				t.printf("  %s) %s\n", o.Key, o.Text)
			}
		}
	}
	if len(q.Languages) > 0 {
		t.printf("languages: %s\n", strings.Join(q.Languages, ", "))
	}
	for i, tc := range q.TestCases {
		if tc.IsHidden {
			continue
		}
		t.printf("example %d: input %q, expected %q\n", i+1, tc.Input, tc.ExpectedOutput)
	}
	if a, ok := t.ctrl.Answer(q.ID); ok && a.Value != "" {
		t.printf("current answer: %s\n", truncate(a.Value, 60))
	}
}

func (t *terminal) showStatus() {
	s := t.ctrl.Snapshot()
	t.printf("%s: %s, %s remaining, question %d/%d, tab switches %d, fullscreen exits %d\n",
		s.Title, s.Status, formatRemaining(s.RemainingSeconds),
		s.CurrentQuestion+1, s.QuestionCount, s.TabSwitchCount, s.FullscreenExitCount)
	if s.UnlockRequest != nil {
		t.printf("unlock request: %s\n", s.UnlockRequest.Status)
	}
	if s.WarningPending {
		t.printf("warning: %s\n", s.WarningMessage)
	}
}

func formatRemaining(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
