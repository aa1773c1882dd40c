package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Entry is one message of a catalog.
type Entry struct {
	TranslatorComments []string
	ExtractedComments  []string
	// Occurrences are "file:line" references.
	Occurrences []string
	Flags       []string
	Context     string
	ID          string
	IDPlural    string
	Str         string
	StrPlural   []string
	Obsolete    bool
}

// Fuzzy reports whether the translation is marked as needing review.
func (e *Entry) Fuzzy() bool {
	for _, f := range e.Flags {
		if f == "fuzzy" {
			return true
		}
	}
	return false
}

// Translated reports whether the entry carries a usable translation.
func (e *Entry) Translated() bool {
	if e.Fuzzy() {
		return false
	}
	if e.IDPlural != "" {
		for _, s := range e.StrPlural {
			if s != "" {
				return true
			}
		}
		return false
	}
	return e.Str != ""
}

func (e *Entry) key() string {
	if e.Context != "" {
		return e.Context + "\x04" + e.ID
	}
	return e.ID
}

// Header is an ordered list of metadata fields.
type Header []HeaderField

// HeaderField is one "Name: value" line of the catalog header.
type HeaderField struct {
	Name  string
	Value string
}

// Get returns the value of a header field.
func (h Header) Get(name string) string {
	for _, f := range h {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func (h Header) String() string {
	var b strings.Builder
	for _, f := range h {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	return b.String()
}

// Catalog is a parsed .po or .pot file.
type Catalog struct {
	Header  Header
	Entries []*Entry
	index   map[string]*Entry
}

// Find returns the entry with the given context and id, obsolete entries included.
func (c *Catalog) Find(context, id string) *Entry {
	if c.index == nil {
		c.index = make(map[string]*Entry, len(c.Entries))
		for _, e := range c.Entries {
			c.index[e.key()] = e
		}
	}
	probe := Entry{Context: context, ID: id}
	return c.index[probe.key()]
}

// Append adds e to the catalog.
func (c *Catalog) Append(e *Entry) {
	c.Entries = append(c.Entries, e)
	if c.index != nil {
		c.index[e.key()] = e
	}
}

// ParseFile reads a .po or .pot file. A leading UTF-8 byte order mark is ignored.
func ParseFile(path string) (*Catalog, error) {
	// #nosec G304 -- catalog paths come from the project layout
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type field int

const (
	fieldNone field = iota
	fieldContext
	fieldID
	fieldIDPlural
	fieldStr
	fieldStrPlural
)

// Parse reads a catalog in the gettext PO format.
func Parse(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		cur       = &Entry{}
		last      = fieldNone
		plural    = 0
		seenID    = false
		seenStr   = false
		lineNo    = 0
		firstLine = true
	)

	flush := func() {
		if seenID {
			if cur.ID == "" && cur.Context == "" && !cur.Obsolete {
				c.Header = parseHeader(cur.Str)
			} else {
				c.Entries = append(c.Entries, cur)
			}
		}
		cur = &Entry{}
		last = fieldNone
		seenID, seenStr = false, false
	}

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if firstLine {
			line = strings.TrimPrefix(line, "\ufeff")
			firstLine = false
		}
		line = strings.TrimSpace(line)

		obsolete := false
		if strings.HasPrefix(line, "#~") {
			obsolete = true
			line = strings.TrimSpace(strings.TrimPrefix(line, "#~"))
		}

		switch {
		case line == "":
			if !obsolete {
				flush()
			}
			continue
		case strings.HasPrefix(line, "#"):
			if seenStr {
				flush()
			}
			parseComment(cur, line)
			continue
		}

		keyword, rest, quoted := splitKeyword(line)
		if quoted {
			s, err := unquote(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			appendField(cur, last, plural, s)
			continue
		}

		s, err := unquote(rest)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if (keyword == "msgctxt" || keyword == "msgid") && seenStr {
			flush()
		}
		if obsolete {
			cur.Obsolete = true
		}
		switch {
		case keyword == "msgctxt":
			cur.Context, last = s, fieldContext
		case keyword == "msgid":
			cur.ID, last, seenID = s, fieldID, true
		case keyword == "msgid_plural":
			cur.IDPlural, last = s, fieldIDPlural
		case keyword == "msgstr":
			cur.Str, last, seenStr = s, fieldStr, true
		case strings.HasPrefix(keyword, "msgstr["):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(keyword, "msgstr["), "]"))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: invalid plural index %q", lineNo, keyword)
			}
			for len(cur.StrPlural) <= n {
				cur.StrPlural = append(cur.StrPlural, "")
			}
			cur.StrPlural[n] = s
			last, plural, seenStr = fieldStrPlural, n, true
		default:
			return nil, fmt.Errorf("line %d: unknown keyword %q", lineNo, keyword)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return c, nil
}

func splitKeyword(line string) (keyword, rest string, quoted bool) {
	if strings.HasPrefix(line, `"`) {
		return "", line, true
	}
	keyword, rest, _ = strings.Cut(line, " ")
	return keyword, strings.TrimSpace(rest), false
}

func appendField(e *Entry, f field, plural int, s string) {
	switch f {
	case fieldContext:
		e.Context += s
	case fieldID:
		e.ID += s
	case fieldIDPlural:
		e.IDPlural += s
	case fieldStr:
		e.Str += s
	case fieldStrPlural:
		e.StrPlural[plural] += s
	case fieldNone:
	}
}

func parseComment(e *Entry, line string) {
	switch {
	case strings.HasPrefix(line, "#:"):
		e.Occurrences = append(e.Occurrences, strings.Fields(line[2:])...)
	case strings.HasPrefix(line, "#,"):
		for _, f := range strings.Split(line[2:], ",") {
			if f = strings.TrimSpace(f); f != "" {
				e.Flags = append(e.Flags, f)
			}
		}
	case strings.HasPrefix(line, "#."):
		e.ExtractedComments = append(e.ExtractedComments, strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "#|"):
		// previous msgid, dropped on merge
	default:
		e.TranslatorComments = append(e.TranslatorComments, strings.TrimSpace(line[1:]))
	}
}

func parseHeader(s string) Header {
	var h Header
	for _, line := range strings.Split(s, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h = append(h, HeaderField{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return h
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("expected quoted string, got %q", s)
	}
	s = s[1 : len(s)-1]
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)

// writeString writes keyword and s, splitting multi-line values after each newline.
func writeString(w *bytes.Buffer, prefix, keyword, s string) {
	lines := splitAfterNewline(s)
	if len(lines) <= 1 {
		fmt.Fprintf(w, "%s%s \"%s\"\n", prefix, keyword, escaper.Replace(s))
		return
	}
	fmt.Fprintf(w, "%s%s \"\"\n", prefix, keyword)
	for _, l := range lines {
		fmt.Fprintf(w, "%s\"%s\"\n", prefix, escaper.Replace(l))
	}
}

func splitAfterNewline(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 || i == len(s)-1 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// Bytes renders the catalog in the PO format: header first, then active entries, obsolete
// entries last.
func (c *Catalog) Bytes() []byte {
	var w bytes.Buffer
	if len(c.Header) > 0 {
		writeString(&w, "", "msgid", "")
		w.WriteString("msgstr \"\"\n")
		for _, f := range c.Header {
			fmt.Fprintf(&w, "\"%s\"\n", escaper.Replace(f.Name+": "+f.Value+"\n"))
		}
	}
	for _, obsolete := range []bool{false, true} {
		for _, e := range c.Entries {
			if e.Obsolete != obsolete {
				continue
			}
			if w.Len() > 0 {
				w.WriteByte('\n')
			}
			writeEntry(&w, e)
		}
	}
	return w.Bytes()
}

func writeEntry(w *bytes.Buffer, e *Entry) {
	for _, c := range e.TranslatorComments {
		fmt.Fprintf(w, "# %s\n", c)
	}
	for _, c := range e.ExtractedComments {
		fmt.Fprintf(w, "#. %s\n", c)
	}
	if len(e.Occurrences) > 0 && !e.Obsolete {
		fmt.Fprintf(w, "#: %s\n", strings.Join(e.Occurrences, " "))
	}
	if len(e.Flags) > 0 {
		fmt.Fprintf(w, "#, %s\n", strings.Join(e.Flags, ", "))
	}
	prefix := ""
	if e.Obsolete {
		prefix = "#~ "
	}
	if e.Context != "" {
		writeString(w, prefix, "msgctxt", e.Context)
	}
	writeString(w, prefix, "msgid", e.ID)
	if e.IDPlural != "" {
		writeString(w, prefix, "msgid_plural", e.IDPlural)
		plurals := e.StrPlural
		if len(plurals) == 0 {
			plurals = []string{"", ""}
		}
		for i, s := range plurals {
			writeString(w, prefix, fmt.Sprintf("msgstr[%d]", i), s)
		}
		return
	}
	writeString(w, prefix, "msgstr", e.Str)
}

// WriteFile writes the catalog atomically.
func (c *Catalog) WriteFile(path string) error {
	return writeAtomic(path, c.Bytes())
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
