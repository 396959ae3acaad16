// Package cookies imports the backend's Cloudflare clearance cookies from
// a local browser profile via kooky.
package cookies

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	"github.com/browserutils/kooky"
	"github.com/browserutils/kooky/browser/chrome"
	"github.com/browserutils/kooky/browser/safari"
)

// Result holds imported cookies.
type Result struct {
	Cookies map[string]string // name -> value
	Browser string            // which browser provided them
}

// HasAll reports whether every name was found.
func (r *Result) HasAll(names []string) bool {
	if r == nil {
		return false
	}
	for _, n := range names {
		if r.Cookies[n] == "" {
			return false
		}
	}
	return true
}

type store struct {
	browser  string
	paths    func() ([]string, error)
	traverse func(path string, filters ...kooky.Filter) kooky.CookieSeq
}

// stores are tried in order. Safari cookies are plaintext on macOS; Chrome
// needs a keychain or keyring prompt.
var stores = []store{
	{browser: "safari", paths: safariCookiePaths, traverse: safari.TraverseCookies},
	{browser: "chrome", paths: chromeCookiePaths, traverse: chrome.TraverseCookies},
}

// Import collects names set on any of domains, stopping once all are found.
// Missing profiles are skipped; the result may be partial.
func Import(ctx context.Context, domains, names []string, logf func(string, ...any)) (*Result, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	result := &Result{Cookies: make(map[string]string, len(names))}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	for _, st := range stores {
		paths, err := st.paths()
		if err != nil {
			logf("[cookies] %s: %v", st.browser, err)
			continue
		}
		for _, path := range paths {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			for _, domain := range domains {
				logf("[cookies] searching %s cookies for %s at %s", st.browser, domain, path)
				seq := st.traverse(path, kooky.DomainHasSuffix(domain)).OnlyCookies()
				if err := collect(ctx, seq, want, st.browser, result, logf); err != nil {
					return result, err
				}
				if result.HasAll(names) {
					return result, nil
				}
			}
		}
	}
	return result, nil
}

// collect keeps the first non-empty value of every wanted cookie.
func collect(ctx context.Context, seq iter.Seq[*kooky.Cookie], want map[string]bool, browser string, result *Result, logf func(string, ...any)) error {
	for cookie := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cookie == nil || cookie.Value == "" || !want[cookie.Name] {
			continue
		}
		if result.Cookies[cookie.Name] != "" {
			continue
		}
		result.Cookies[cookie.Name] = cookie.Value
		if result.Browser == "" {
			result.Browser = browser
		}
		logf("[cookies] found %s (domain=%s, browser=%s)", cookie.Name, cookie.Domain, browser)
	}
	return nil
}

func chromeCookiePaths() ([]string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	var profile string
	switch runtime.GOOS {
	case "darwin":
		profile = filepath.Join(dir, "Google", "Chrome", "Default")
	case "linux":
		profile = filepath.Join(dir, "google-chrome", "Default")
	default:
		return nil, fmt.Errorf("unsupported OS %q", runtime.GOOS)
	}
	return []string{
		filepath.Join(profile, "Network", "Cookies"),
		filepath.Join(profile, "Cookies"),
	}, nil
}

func safariCookiePaths() ([]string, error) {
	if runtime.GOOS != "darwin" {
		return nil, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return []string{
		filepath.Join(home, "Library", "Containers", "com.apple.Safari", "Data", "Library", "Cookies", "Cookies.binarycookies"),
		filepath.Join(home, "Library", "Cookies", "Cookies.binarycookies"),
	}, nil
}
