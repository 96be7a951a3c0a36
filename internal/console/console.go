// Package console is a line-oriented front end for the user list controller.
//
// It reads one command per line and dispatches it as an intent. Transient
// messages are printed as soon as the controller publishes them, so the
// outcome of a delete shows up even while the operator is idle.
//
// Commands:
//
//	help                  show available commands
//	list | l              print the visible rows
//	refresh | r           reload from the directory
//	search [term]         filter rows; no term clears the filter
//	delete <email>        delete one account
//	dismiss error|success hide a message early
//	exit | quit           leave
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/sakif/user-admin/internal/userlist"
)

const (
	prompt       = "useradmin> "
	flushTimeout = 2 * time.Second
)

// View is the slice of *userlist.Controller the console drives.
type View interface {
	Snapshot() userlist.Snapshot
	Subscribe(fn func(userlist.Snapshot)) (unsubscribe func())
	Flush(ctx context.Context) error

	Refresh()
	DeleteByEmail(email string)
	SetSearchTerm(term string)
	DismissError()
	DismissSuccess()
}

// Console runs the read-eval-print loop.
type Console struct {
	view        View
	in          io.Reader
	interactive bool

	mu          sync.Mutex // guards out and the last* fields
	out         io.Writer
	lastError   string
	lastSuccess string
}

// New builds a console reading from in and writing to out. The prompt is
// only printed when in is a terminal.
func New(view View, in io.Reader, out io.Writer) *Console {
	return &Console{
		view:        view,
		in:          in,
		out:         out,
		interactive: isTerminal(in),
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run reads commands until EOF, exit/quit, or ctx is cancelled between
// lines.
func (c *Console) Run(ctx context.Context) error {
	unsubscribe := c.view.Subscribe(c.onChange)
	defer unsubscribe()

	scanner := bufio.NewScanner(c.in)
	for {
		if c.interactive {
			c.print(prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "help", "h", "?":
			c.println("Available commands: list, refresh, search [term], delete <email>, dismiss error|success, exit")

		case "list", "l":
			c.flush(ctx)
			c.printList(c.view.Snapshot())

		case "refresh", "r":
			c.view.Refresh()
			c.println("Refreshing...")

		case "search":
			// The term is everything after "search ", inner spaces kept.
			c.view.SetSearchTerm(arg)
			c.flush(ctx)
			snap := c.view.Snapshot()
			c.println(fmt.Sprintf("%d of %d users match %q", len(snap.Visible()), len(snap.Records), snap.SearchTerm))

		case "delete", "rm":
			email := strings.TrimSpace(arg)
			if email == "" {
				c.println("Usage: delete <email>")
				continue
			}
			c.view.DeleteByEmail(email)
			c.println("Deleting " + email + "...")

		case "dismiss":
			switch strings.TrimSpace(arg) {
			case "error":
				c.view.DismissError()
			case "success":
				c.view.DismissSuccess()
			default:
				c.println("Usage: dismiss error|success")
			}

		case "exit", "quit":
			c.println("Bye!")
			return nil

		default:
			c.println("Unknown command: " + cmd)
		}
	}
}

// onChange prints messages the moment they first appear.
func (c *Console) onChange(s userlist.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.HasError() && s.ErrorMessage != c.lastError {
		fmt.Fprintln(c.out, "! "+s.ErrorMessage)
	}
	if s.HasSuccess() && s.SuccessMessage != c.lastSuccess {
		fmt.Fprintln(c.out, "✓ "+s.SuccessMessage)
	}
	c.lastError = s.ErrorMessage
	c.lastSuccess = s.SuccessMessage
}

func (c *Console) printList(s userlist.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Loading {
		fmt.Fprintln(c.out, "Loading...")
		return
	}

	rows := s.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No users.")
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tEMAIL\tPROVIDER\tCREATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Index+1, r.Name, r.Email, userlist.ProviderLabel(r.Provider), userlist.CreatedLabel(r.CreatedAt))
	}
	tw.Flush()

	if s.SearchTerm != "" {
		fmt.Fprintf(c.out, "%d of %d users (search %q)\n", len(rows), len(s.Records), s.SearchTerm)
	}
}

// flush waits for earlier intents to be applied so the next read sees them.
func (c *Console) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	_ = c.view.Flush(ctx)
}

func (c *Console) print(s string) {
	c.mu.Lock()
	fmt.Fprint(c.out, s)
	c.mu.Unlock()
}

func (c *Console) println(s string) {
	c.mu.Lock()
	fmt.Fprintln(c.out, s)
	c.mu.Unlock()
}
