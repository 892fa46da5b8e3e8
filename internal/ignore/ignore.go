// Package ignore decides which files document discovery skips. It reads
// .gitignore and .docsearchignore files using gitignore pattern syntax
// (https://git-scm.com/docs/gitignore): wildcards, **, rooted and
// directory-only patterns, negation and per-directory ignore files.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// FileNames are the ignore files read from every walked directory, in order.
var FileNames = []string{".gitignore", ".docsearchignore"}

// Matcher holds compiled rules. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
	base    string // directory of the ignore file, relative to the walk root
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// Add adds one pattern line. base is the slash-separated directory the
// pattern is relative to; "" is the walk root. Blank lines and comments
// are ignored.
func (m *Matcher) Add(line, base string) {
	r, ok := compile(line, base)
	if !ok {
		return
	}
	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFile adds every pattern in the file at p.
func (m *Matcher) AddFile(p, base string) error {
	f, err := os.Open(p)
	if err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to open ignore file", err).
			WithDetail("path", p)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to read ignore file", err).
			WithDetail("path", p)
	}
	return nil
}

// LoadDir adds the ignore files found in root/rel. Missing files are skipped.
func (m *Matcher) LoadDir(root, rel string) error {
	for _, name := range FileNames {
		p := filepath.Join(root, filepath.FromSlash(rel), name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := m.AddFile(p, rel); err != nil {
			return err
		}
	}
	return nil
}

// Ignored reports whether rel, a slash-separated path relative to the walk
// root, is excluded. The last matching rule wins.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Len is the number of rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

func (r rule) matches(rel string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(rel, r.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, r.base+"/")
	}
	return r.matchRel(rel, isDir)
}

func (r rule) matchRel(rel string, isDir bool) bool {
	sm := r.re.FindStringSubmatch(rel)
	if sm == nil {
		return false
	}
	// A non-empty tail means the pattern matched a parent directory.
	if !r.dirOnly || sm[1] != "" || isDir {
		return true
	}
	if dir := path.Dir(rel); dir != "." {
		return r.matchRel(dir, true)
	}
	return false
}

func compile(line, base string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}

	r := rule{base: strings.Trim(path.Clean("/"+base), "/")}
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return rule{}, false
	}

	// A slash anywhere but the end roots the pattern at base.
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")

	prefix := "(?:.*/)?"
	if anchored {
		prefix = ""
	}
	r.re = regexp.MustCompile("^" + prefix + globToRegex(p) + "(/.*)?$")
	return r, true
}

// globToRegex translates gitignore wildcards; "/" is never matched by * or ?.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if strings.HasPrefix(glob[i:], "**/") {
				sb.WriteString("(?:.*/)?")
				i += 2
			} else if strings.HasPrefix(glob[i:], "**") {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
