// Package discovery extracts removable license ids from the Steam licenses
// page or from plain id lists.
package discovery

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// RemoveLinkClass marks the wrapper around each free license's remove anchor.
const RemoveLinkClass = "free_license_remove_link"

var digitRun = regexp.MustCompile(`\d+`)

// ParseLicensesPage returns the package ids of every removable license on
// the page, in document order with duplicates dropped.
func ParseLicensesPage(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse licenses page: %w", err)
	}

	var ids []string
	seen := make(map[string]bool)

	var walk func(n *html.Node, inLink bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode {
			if inLink && n.Data == "a" {
				if id := digitRun.FindString(attr(n, "href")); id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
			if hasClass(n, RemoveLinkClass) {
				inLink = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(doc, false)

	return ids, nil
}

// ReadIDFile reads one id per line. Blank lines and lines starting with '#'
// are skipped; anything else must be all digits.
func ReadIDFile(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !IsID(text) {
			return nil, fmt.Errorf("line %d: invalid license id %q", line, text)
		}
		ids = append(ids, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}
	return ids, nil
}

// IsID reports whether s is a non-empty string of ASCII digits.
func IsID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
