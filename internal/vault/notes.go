package vault

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

const (
	maxFilenameRunes = 100
	maxSlugRunes     = 50
	recentEmails     = 10
	noSubject        = "(no subject)"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	titleCaser          = cases.Title(language.English)
)

// SanitizeFilename removes characters that are unsafe in file names,
// replaces spaces with underscores and truncates to 100 runes.
func SanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")
	return truncateRunes(name, maxFilenameRunes)
}

// Slugify is model.Slug truncated to 50 runes.
func Slugify(text string) string {
	return strings.Trim(truncateRunes(model.Slug(text), maxSlugRunes), "-")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ContactName is the file and link name of a contact note.
func ContactName(c model.Contact) string {
	if name := SanitizeFilename(c.DisplayName()); name != "" {
		return name
	}
	return SanitizeFilename(c.Email)
}

// SenderName is the link target of a message's sender.
func SenderName(m model.Message) string {
	if name := SanitizeFilename(m.SenderName); name != "" {
		return name
	}
	return SanitizeFilename(m.SenderEmail)
}

// ContactPath is the vault-relative path of a contact note.
func ContactPath(c model.Contact) string {
	return ContactsDir + "/" + ContactName(c) + ".md"
}

// EmailLink is the vault-relative link target of a message note, without
// the .md extension. The trailing 8 hex digits come from the account and
// provider message id, so messages with the same second and subject in
// different mailboxes get separate notes.
func EmailLink(m model.Message) string {
	d := m.Date.UTC()
	slug := Slugify(m.Subject)
	if slug == "" {
		slug = "no-subject"
	}
	return fmt.Sprintf("%s/%04d/%02d/%s-%s-%s", EmailsDir, d.Year(), int(d.Month()), d.Format("20060102-150405"), slug, noteKey(m))
}

func noteKey(m model.Message) string {
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(m.AccountID+"/"+m.ProviderMessageID)))
}

// EmailPath is the vault-relative path of a message note.
func EmailPath(m model.Message) string {
	return EmailLink(m) + ".md"
}

// ContactNote renders the note for c. msgs are the messages sent by c.
func ContactNote(c model.Contact, msgs []model.Message) (string, error) {
	perAccount := map[model.AccountLabel]int{}
	for _, m := range msgs {
		perAccount[m.AccountLabel]++
	}
	labels := make([]string, 0, len(perAccount))
	for l := range perAccount {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)
	sources := c.SourceStrings()
	sort.Strings(sources)

	fm := newFrontMatter()
	fm.set("type", "contact")
	fm.set("name", c.DisplayName())
	fm.set("email", c.Email)
	fm.set("accounts", sources)
	fm.set("email_count", c.EmailCount)
	for _, l := range labels {
		fm.set("email_count_"+strings.NewReplacer("-", "_", " ", "_").Replace(l), perAccount[model.AccountLabel(l)])
	}
	if c.LastContactAt != nil {
		fm.set("last_contact", c.LastContactAt.UTC().Format("2006-01-02"))
	}
	if c.RelationshipContext != "" {
		fm.set("tags", []string{c.RelationshipContext})
	}
	head, err := fm.render()
	if err != nil {
		return "", eris.Wrapf(err, "vault: contact note %s", c.Email)
	}

	var b strings.Builder
	b.WriteString(head)
	fmt.Fprintf(&b, "# %s\n\n", c.DisplayName())

	b.WriteString("## Email History\n\n")
	fmt.Fprintf(&b, "- **Total Emails**: %d\n", c.EmailCount)
	fmt.Fprintf(&b, "- **Accounts**: %s\n", strings.Join(sources, ", "))
	if c.LastContactAt != nil {
		fmt.Fprintf(&b, "- **Last Contact**: %s\n", c.LastContactAt.UTC().Format("2006-01-02"))
	}
	b.WriteString("\n")

	if len(labels) > 0 {
		b.WriteString("### By Account\n\n")
		for _, l := range labels {
			fmt.Fprintf(&b, "- **%s**: %d emails\n", l, perAccount[model.AccountLabel(l)])
		}
		b.WriteString("\n")
	}

	if c.Notes != "" {
		b.WriteString("## Notes\n\n")
		b.WriteString(c.Notes)
		b.WriteString("\n\n")
	}

	if len(msgs) > 0 {
		recent := make([]model.Message, len(msgs))
		copy(recent, msgs)
		sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
		if len(recent) > recentEmails {
			recent = recent[:recentEmails]
		}
		b.WriteString("## Recent Emails\n\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "- [[%s|%s - %s]]\n", EmailLink(m), m.Date.UTC().Format("2006-01-02"), subjectOrDefault(m.Subject))
		}
		b.WriteString("\n")
	}

	b.WriteString("## All Emails (Dataview)\n\n")
	b.WriteString("```dataview\n")
	b.WriteString("TABLE\n  date as Date,\n  subject as Subject,\n  account as Account\n")
	fmt.Fprintf(&b, "FROM %q\n", EmailsDir)
	fmt.Fprintf(&b, "WHERE contains(from, \"[[%s]]\")\n", ContactName(c))
	b.WriteString("SORT date DESC\n")
	b.WriteString("```\n")
	return b.String(), nil
}

// EmailNote renders the note for m with its tags.
func EmailNote(m model.Message, tags []model.Tag) (string, error) {
	d := m.Date.UTC()
	from := "[[" + SenderName(m) + "]]"

	paths := make([]string, len(tags))
	for i, t := range tags {
		paths[i] = t.Path()
	}

	fm := newFrontMatter()
	fm.set("type", "email")
	fm.set("date", d.Format("2006-01-02T15:04:05Z07:00"))
	fm.set("year", d.Year())
	fm.set("month", int(d.Month()))
	fm.set("from", from)
	fm.set("to", m.Recipients)
	fm.set("subject", subjectOrDefault(m.Subject))
	fm.set("account", string(m.AccountLabel))
	fm.set("message_id", m.ProviderMessageID)
	if len(paths) > 0 {
		fm.set("tags", paths)
	}
	fm.set("has_attachments", m.HasAttachments)
	head, err := fm.render()
	if err != nil {
		return "", eris.Wrapf(err, "vault: email note %s", m.ProviderMessageID)
	}

	var b strings.Builder
	b.WriteString(head)
	fmt.Fprintf(&b, "# %s\n\n", subjectOrDefault(m.Subject))

	b.WriteString("## Metadata\n\n")
	fmt.Fprintf(&b, "- **From**: %s\n", from)
	fmt.Fprintf(&b, "- **To**: %s\n", m.Recipients)
	fmt.Fprintf(&b, "- **Date**: %s\n", d.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- **Account**: %s\n", m.AccountLabel)
	if m.HasAttachments {
		fmt.Fprintf(&b, "- **Attachments**: %d\n", m.AttachmentCount)
	}
	b.WriteString("\n")

	if m.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(m.Summary)
		b.WriteString("\n\n")
	}

	if len(tags) > 0 {
		byCategory := map[model.TagCategory][]model.Tag{}
		var cats []string
		for _, t := range tags {
			if _, ok := byCategory[t.Category]; !ok {
				cats = append(cats, string(t.Category))
			}
			byCategory[t.Category] = append(byCategory[t.Category], t)
		}
		sort.Strings(cats)

		b.WriteString("## Detected Themes\n\n")
		for _, cat := range cats {
			fmt.Fprintf(&b, "### %s\n\n", titleCaser.String(cat))
			for _, t := range byCategory[model.TagCategory(cat)] {
				if t.Confidence != nil && *t.Confidence > 0 {
					fmt.Fprintf(&b, "- `%s` (%.2f)\n", t.Value, *t.Confidence)
				} else {
					fmt.Fprintf(&b, "- `%s`\n", t.Value)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func subjectOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return noSubject
	}
	return s
}

// frontMatter is an ordered YAML mapping.
type frontMatter struct {
	node yaml.Node
	err  error
}

func newFrontMatter() *frontMatter {
	return &frontMatter{node: yaml.Node{Kind: yaml.MappingNode}}
}

func (f *frontMatter) set(key string, value any) {
	if f.err != nil {
		return
	}
	var v yaml.Node
	if err := v.Encode(value); err != nil {
		f.err = eris.Wrapf(err, "front matter %s", key)
		return
	}
	f.node.Content = append(f.node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &v)
}

func (f *frontMatter) render() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	out, err := yaml.Marshal(&f.node)
	if err != nil {
		return "", eris.Wrap(err, "front matter")
	}
	return "---\n" + string(out) + "---\n\n", nil
}
