package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/licrm/internal/discovery"
	"github.com/Dicklesworthstone/licrm/internal/drain"
)

// sourceFlags selects where license ids come from.
type sourceFlags struct {
	idsFile string
	page    string
	fetch   bool
}

func (s sourceFlags) describe(args []string) string {
	var parts []string
	if len(args) > 0 {
		parts = append(parts, "args")
	}
	if s.idsFile != "" {
		parts = append(parts, s.idsFile)
	}
	if s.page != "" {
		parts = append(parts, s.page)
	}
	if s.fetch {
		parts = append(parts, "licenses page")
	}
	return strings.Join(parts, ", ")
}

// pageFetcher is the part of the steam client discovery needs.
type pageFetcher interface {
	FetchLicensesPage(ctx context.Context, cred drain.Credential) (io.ReadCloser, error)
}

var errNoSource = errors.New("no license source: pass ids, --ids-file, --page or --fetch")

// collectIDs merges ids from every source in order: args, id file, saved
// page, live page. Later duplicates are dropped.
func collectIDs(ctx context.Context, args []string, src sourceFlags, fetcher pageFetcher, cred drain.Credential) ([]string, error) {
	if len(args) == 0 && src.idsFile == "" && src.page == "" && !src.fetch {
		return nil, errNoSource
	}

	var ids []string
	seen := make(map[string]bool)
	add := func(list []string) {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	for _, a := range args {
		if !discovery.IsID(a) {
			return nil, fmt.Errorf("invalid license id %q", a)
		}
	}
	add(args)

	if src.idsFile != "" {
		list, err := readFile(src.idsFile, discovery.ReadIDFile)
		if err != nil {
			return nil, err
		}
		add(list)
	}

	if src.page != "" {
		list, err := readFile(src.page, discovery.ParseLicensesPage)
		if err != nil {
			return nil, err
		}
		add(list)
	}

	if src.fetch {
		if fetcher == nil {
			return nil, errors.New("--fetch needs a steam client")
		}
		rc, err := fetcher.FetchLicensesPage(ctx, cred)
		if err != nil {
			return nil, fmt.Errorf("fetch licenses page: %w", err)
		}
		defer rc.Close()
		list, err := discovery.ParseLicensesPage(rc)
		if err != nil {
			return nil, err
		}
		add(list)
	}

	return ids, nil
}

func readFile(path string, parse func(io.Reader) ([]string, error)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ids, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// promptFunc asks for the session id without echoing it.
type promptFunc func(prompt string) (string, error)

func terminalPrompt(stderr io.Writer) promptFunc {
	return func(prompt string) (string, error) {
		fd := os.Stdin.Fd()
		if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			return "", errors.New("stdin is not a terminal")
		}
		fmt.Fprint(stderr, prompt)
		b, err := term.ReadPassword(int(fd))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// resolveSession picks the flag value, then config/env, then asks.
func resolveSession(flagValue, configured string, ask promptFunc) (drain.Credential, error) {
	for _, v := range []string{flagValue, configured} {
		if v = strings.TrimSpace(v); v != "" {
			return drain.Credential(v), nil
		}
	}
	if ask != nil {
		v, err := ask("Steam session id: ")
		if err == nil && strings.TrimSpace(v) != "" {
			return drain.Credential(strings.TrimSpace(v)), nil
		}
	}
	return "", errors.New("no session id: use --session-id, LICRM_SESSION_ID or steam.session_id")
}

// colorEnabled resolves output.color for w.
func colorEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
