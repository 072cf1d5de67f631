// Package prompt collects the run credentials from pre-set configuration or,
// for anything left empty, from the operator on the terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"bitbuckethooks/filter"
	"bitbuckethooks/models"
)

// Prompt errors
var (
	ErrUserDeclined = fmt.Errorf("operator declined to continue")
	ErrMissingValue = fmt.Errorf("missing required value")
)

// Prompter reads answers line by line from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal behind in, or -1 when in is not a terminal.
	fd int
}

// New creates a Prompter. When in is a terminal, secrets are read without echo.
func New(in io.Reader, out io.Writer) *Prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Prompter{in: bufio.NewReader(in), out: out, fd: fd}
}

// Ask prints question and returns the next input line without surrounding
// whitespace. End of input yields whatever was read, possibly "".
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	return p.readLine()
}

// AskSecret is Ask without echo on a terminal. Input already buffered from
// earlier answers is consumed line by line first, the terminal is only read
// directly once the buffer is empty.
func (p *Prompter) AskSecret(question string) (string, error) {
	if p.fd < 0 || p.in.Buffered() > 0 {
		return p.Ask(question)
	}
	fmt.Fprint(p.out, question)
	secret, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// Confirm prints the summary and waits for a yes or no answer, asking again
// on anything else. "n" and "no" return ErrUserDeclined.
func (p *Prompter) Confirm(summary string) error {
	fmt.Fprint(p.out, summary)
	for {
		line, err := p.readLine()
		switch strings.ToLower(line) {
		case "y", "yes":
			return nil
		case "n", "no":
			return ErrUserDeclined
		}
		if err != nil {
			return fmt.Errorf("no confirmation received: %w", err)
		}
	}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return line, err
	}
	return line, nil
}

type question struct {
	target *string
	text   string
	secret bool
	// optional values may stay empty after prompting
	optional bool
}

// Collect fills every empty field of preset by prompting, in the order
// account, hook URL, username, password, whitelist, blacklist. The patterns
// are compiled here so a typo is caught before confirmation; the compiled
// filter is returned with the credentials.
func Collect(p *Prompter, preset models.Credentials) (models.Credentials, *filter.Filter, error) {
	creds := preset
	questions := []question{
		{target: &creds.Account, text: "Enter the Bitbucket account name you want to apply the web hook to: "},
		{target: &creds.HookURL, text: "Enter your new POST web hook to apply to all repositories: "},
		{target: &creds.Username, text: "Enter your Bitbucket username: "},
		{target: &creds.Password, text: "Enter your Bitbucket password: ", secret: true},
		{target: &creds.Whitelist, text: "Enter pattern for whitelisting (Press enter to disable whitelisting): ", optional: true},
		{target: &creds.Blacklist, text: "Enter pattern for blacklisting (Press enter to disable blacklisting): ", optional: true},
	}

	for _, q := range questions {
		if *q.target != "" {
			continue
		}
		var (
			answer string
			err    error
		)
		if q.secret {
			answer, err = p.AskSecret(q.text)
		} else {
			answer, err = p.Ask(q.text)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return models.Credentials{}, nil, fmt.Errorf("failed to read answer: %w", err)
		}
		*q.target = answer
		if answer == "" && !q.optional {
			return models.Credentials{}, nil, fmt.Errorf("%w: %s", ErrMissingValue, strings.TrimSuffix(q.text, ": "))
		}
	}

	f, err := filter.New(creds.Whitelist, creds.Blacklist)
	if err != nil {
		return models.Credentials{}, nil, err
	}
	return creds, f, nil
}

// Summary renders the confirmation text shown before anything is changed.
func Summary(creds models.Credentials) string {
	return fmt.Sprintf("\nAbout to set up the following POST web hook:\n%s\n\n"+
		"On the Bitbucket account: %s\n"+
		"Using the login username '%s'\n\n"+
		"Do you want to continue (y/n)?\n",
		creds.HookURL, creds.Account, creds.Username)
}
