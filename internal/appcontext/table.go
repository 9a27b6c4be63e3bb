package appcontext

import (
	"fmt"
	"os"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Mapping is one row of the application table.
type Mapping struct {
	ID          string             `yaml:"id"`
	DisplayName string             `yaml:"display_name"`
	Context     domain.ContextType `yaml:"context"`
	BundleIDs   []string           `yaml:"bundle_ids"`
	Names       []string           `yaml:"names"`
	Aliases     []string           `yaml:"aliases"`
	Processes   []string           `yaml:"processes"`
}

// TitlePattern maps browser window titles to a context. Any pattern substring matches.
type TitlePattern struct {
	ID          string             `yaml:"id"`
	DisplayName string             `yaml:"display_name"`
	Context     domain.ContextType `yaml:"context"`
	Patterns    []string           `yaml:"patterns"`
}

// Table is the ordered mapping table plus browser title patterns. Order is significant.
type Table struct {
	Mappings      []Mapping      `yaml:"mappings"`
	TitlePatterns []TitlePattern `yaml:"title_patterns"`
}

// DefaultTable returns a fresh copy of the built-in table.
func DefaultTable() *Table {
	t := &Table{
		Mappings:      make([]Mapping, len(builtinMappings)),
		TitlePatterns: make([]TitlePattern, len(builtinTitlePatterns)),
	}
	copy(t.Mappings, builtinMappings)
	copy(t.TitlePatterns, builtinTitlePatterns)
	return t
}

// LoadTable reads a YAML mappings file and merges it over the built-in table. Mappings with a known
// id replace the built-in row in place; new ids are appended. File title patterns are checked
// before the built-in ones. An empty path returns the defaults.
func LoadTable(path string) (*Table, error) {
	table := DefaultTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context mappings: %w", err)
	}
	var file Table
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse context mappings: %w", err)
	}
	if err := table.merge(file); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *Table) merge(other Table) error {
	index := make(map[string]int, len(t.Mappings))
	for i, m := range t.Mappings {
		index[m.ID] = i
	}
	for _, m := range other.Mappings {
		if m.ID == "" {
			return fmt.Errorf("context mapping missing id")
		}
		if !m.Context.Valid() {
			return fmt.Errorf("context mapping %s: unknown context %q", m.ID, m.Context)
		}
		if i, ok := index[m.ID]; ok {
			t.Mappings[i] = m
			continue
		}
		index[m.ID] = len(t.Mappings)
		t.Mappings = append(t.Mappings, m)
	}
	var patterns []TitlePattern
	for _, p := range other.TitlePatterns {
		if p.ID == "" || len(p.Patterns) == 0 {
			return fmt.Errorf("title pattern requires id and patterns")
		}
		if !p.Context.Valid() {
			return fmt.Errorf("title pattern %s: unknown context %q", p.ID, p.Context)
		}
		patterns = append(patterns, p)
	}
	t.TitlePatterns = append(patterns, t.TitlePatterns...)
	return nil
}

var builtinTitlePatterns = []TitlePattern{
	{ID: "gmail", DisplayName: "Gmail", Context: domain.ContextEmail, Patterns: []string{"gmail", "mail.google.com"}},
	{ID: "outlook-web", DisplayName: "Outlook", Context: domain.ContextEmail, Patterns: []string{"outlook.live.com", "outlook.office", "outlook"}},
	{ID: "proton-mail", DisplayName: "Proton Mail", Context: domain.ContextEmail, Patterns: []string{"proton mail", "mail.proton.me"}},
	{ID: "github", DisplayName: "GitHub", Context: domain.ContextCodeEditor, Patterns: []string{"github.com", "github"}},
	{ID: "gitlab", DisplayName: "GitLab", Context: domain.ContextCodeEditor, Patterns: []string{"gitlab"}},
	{ID: "stackoverflow", DisplayName: "Stack Overflow", Context: domain.ContextCodeEditor, Patterns: []string{"stack overflow", "stackoverflow.com"}},
	{ID: "codesandbox", DisplayName: "CodeSandbox", Context: domain.ContextCodeEditor, Patterns: []string{"codesandbox", "replit", "codepen"}},
	{ID: "slack-web", DisplayName: "Slack", Context: domain.ContextMessaging, Patterns: []string{"slack.com", "| slack", "slack"}},
	{ID: "discord-web", DisplayName: "Discord", Context: domain.ContextMessaging, Patterns: []string{"discord"}},
	{ID: "teams-web", DisplayName: "Microsoft Teams", Context: domain.ContextMessaging, Patterns: []string{"teams.microsoft.com", "microsoft teams"}},
	{ID: "whatsapp-web", DisplayName: "WhatsApp", Context: domain.ContextMessaging, Patterns: []string{"whatsapp"}},
	{ID: "messenger-web", DisplayName: "Messenger", Context: domain.ContextMessaging, Patterns: []string{"messenger.com", "messenger"}},
	{ID: "google-slides", DisplayName: "Google Slides", Context: domain.ContextPresentation, Patterns: []string{"google slides", "docs.google.com/presentation"}},
	{ID: "google-docs", DisplayName: "Google Docs", Context: domain.ContextDocument, Patterns: []string{"google docs", "docs.google.com"}},
	{ID: "office-web", DisplayName: "Microsoft 365", Context: domain.ContextDocument, Patterns: []string{"word online", "microsoft word", "office.com"}},
	{ID: "notion-web", DisplayName: "Notion", Context: domain.ContextNotes, Patterns: []string{"notion"}},
	{ID: "confluence", DisplayName: "Confluence", Context: domain.ContextDocument, Patterns: []string{"confluence"}},
	{ID: "linkedin", DisplayName: "LinkedIn", Context: domain.ContextMessaging, Patterns: []string{"linkedin"}},
}

var builtinMappings = []Mapping{
	// Browsers come first; a match routes classification through the title patterns.
	{ID: "chrome", DisplayName: "Google Chrome", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.google.Chrome"}, Names: []string{"Google Chrome", "Chrome"},
		Aliases: []string{"google-chrome", "chrome.exe"}, Processes: []string{"chrome"}},
	{ID: "safari", DisplayName: "Safari", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.apple.Safari"}, Names: []string{"Safari"}, Processes: []string{"safari"}},
	{ID: "firefox", DisplayName: "Firefox", Context: domain.ContextBrowser,
		BundleIDs: []string{"org.mozilla.firefox"}, Names: []string{"Firefox", "Mozilla Firefox"},
		Aliases: []string{"firefox.exe", "firefox-esr"}, Processes: []string{"firefox"}},
	{ID: "edge", DisplayName: "Microsoft Edge", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.microsoft.edgemac"}, Names: []string{"Microsoft Edge"},
		Aliases: []string{"msedge", "msedge.exe"}, Processes: []string{"msedge", "microsoft-edge"}},
	{ID: "arc", DisplayName: "Arc", Context: domain.ContextBrowser,
		BundleIDs: []string{"company.thebrowser.Browser"}, Names: []string{"Arc"}},
	{ID: "brave", DisplayName: "Brave Browser", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.brave.Browser"}, Names: []string{"Brave Browser", "Brave"},
		Aliases: []string{"brave.exe"}, Processes: []string{"brave"}},
	{ID: "opera", DisplayName: "Opera", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.operasoftware.Opera"}, Names: []string{"Opera"}, Processes: []string{"opera"}},
	{ID: "vivaldi", DisplayName: "Vivaldi", Context: domain.ContextBrowser,
		BundleIDs: []string{"com.vivaldi.Vivaldi"}, Names: []string{"Vivaldi"}, Processes: []string{"vivaldi"}},
	{ID: "chromium", DisplayName: "Chromium", Context: domain.ContextBrowser,
		BundleIDs: []string{"org.chromium.Chromium"}, Names: []string{"Chromium"}, Processes: []string{"chromium"}},

	{ID: "apple-mail", DisplayName: "Mail", Context: domain.ContextEmail,
		BundleIDs: []string{"com.apple.mail"}, Names: []string{"Mail"}, Aliases: []string{"Apple Mail"}},
	{ID: "outlook", DisplayName: "Microsoft Outlook", Context: domain.ContextEmail,
		BundleIDs: []string{"com.microsoft.Outlook"}, Names: []string{"Microsoft Outlook", "Outlook"},
		Aliases: []string{"outlook.exe", "olk.exe"}, Processes: []string{"outlook", "olk"}},
	{ID: "thunderbird", DisplayName: "Thunderbird", Context: domain.ContextEmail,
		BundleIDs: []string{"org.mozilla.thunderbird"}, Names: []string{"Thunderbird"}, Processes: []string{"thunderbird"}},
	{ID: "spark", DisplayName: "Spark", Context: domain.ContextEmail,
		BundleIDs: []string{"com.readdle.smartemail-Mac"}, Names: []string{"Spark"}},
	{ID: "superhuman", DisplayName: "Superhuman", Context: domain.ContextEmail,
		BundleIDs: []string{"com.superhuman.electron"}, Names: []string{"Superhuman"}, Processes: []string{"superhuman"}},

	{ID: "vscode", DisplayName: "Visual Studio Code", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"com.microsoft.VSCode"}, Names: []string{"Visual Studio Code", "Code"},
		Aliases: []string{"vscode", "code.exe"}, Processes: []string{"code"}},
	{ID: "cursor", DisplayName: "Cursor", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"com.todesktop.230313mzl4w4u92"}, Names: []string{"Cursor"}, Processes: []string{"cursor"}},
	{ID: "xcode", DisplayName: "Xcode", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"com.apple.dt.Xcode"}, Names: []string{"Xcode"}},
	{ID: "jetbrains", DisplayName: "JetBrains IDE", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"com.jetbrains.goland", "com.jetbrains.intellij", "com.jetbrains.pycharm"},
		Names: []string{"GoLand", "IntelliJ IDEA", "PyCharm", "WebStorm"},
		Processes: []string{"goland", "idea", "pycharm", "webstorm"}},
	{ID: "sublime", DisplayName: "Sublime Text", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"com.sublimetext.4"}, Names: []string{"Sublime Text"}, Aliases: []string{"subl"}, Processes: []string{"sublime_text"}},
	{ID: "zed", DisplayName: "Zed", Context: domain.ContextCodeEditor,
		BundleIDs: []string{"dev.zed.Zed"}, Names: []string{"Zed"}, Processes: []string{"zed"}},

	{ID: "slack", DisplayName: "Slack", Context: domain.ContextMessaging,
		BundleIDs: []string{"com.tinyspeck.slackmacgap"}, Names: []string{"Slack"}, Aliases: []string{"slack.exe"}, Processes: []string{"slack"}},
	{ID: "discord", DisplayName: "Discord", Context: domain.ContextMessaging,
		BundleIDs: []string{"com.hnc.Discord"}, Names: []string{"Discord"}, Processes: []string{"discord"}},
	{ID: "teams", DisplayName: "Microsoft Teams", Context: domain.ContextMessaging,
		BundleIDs: []string{"com.microsoft.teams2", "com.microsoft.teams"}, Names: []string{"Microsoft Teams"},
		Aliases: []string{"ms-teams", "teams"}, Processes: []string{"teams"}},
	{ID: "messages", DisplayName: "Messages", Context: domain.ContextMessaging,
		BundleIDs: []string{"com.apple.MobileSMS"}, Names: []string{"Messages"}},
	{ID: "telegram", DisplayName: "Telegram", Context: domain.ContextMessaging,
		BundleIDs: []string{"ru.keepcoder.Telegram", "org.telegram.desktop"}, Names: []string{"Telegram"}, Processes: []string{"telegram"}},
	{ID: "whatsapp", DisplayName: "WhatsApp", Context: domain.ContextMessaging,
		BundleIDs: []string{"net.whatsapp.WhatsApp"}, Names: []string{"WhatsApp"}, Processes: []string{"whatsapp"}},
	{ID: "signal", DisplayName: "Signal", Context: domain.ContextMessaging,
		BundleIDs: []string{"org.whispersystems.signal-desktop"}, Names: []string{"Signal"}, Processes: []string{"signal"}},

	{ID: "apple-notes", DisplayName: "Notes", Context: domain.ContextNotes,
		BundleIDs: []string{"com.apple.Notes"}, Names: []string{"Notes"}},
	{ID: "obsidian", DisplayName: "Obsidian", Context: domain.ContextNotes,
		BundleIDs: []string{"md.obsidian"}, Names: []string{"Obsidian"}, Processes: []string{"obsidian"}},
	{ID: "notion", DisplayName: "Notion", Context: domain.ContextNotes,
		BundleIDs: []string{"notion.id"}, Names: []string{"Notion"}, Processes: []string{"notion"}},
	{ID: "bear", DisplayName: "Bear", Context: domain.ContextNotes,
		BundleIDs: []string{"net.shinyfrog.bear"}, Names: []string{"Bear"}},
	{ID: "onenote", DisplayName: "Microsoft OneNote", Context: domain.ContextNotes,
		BundleIDs: []string{"com.microsoft.onenote.mac"}, Names: []string{"Microsoft OneNote", "OneNote"}, Processes: []string{"onenote"}},
	{ID: "evernote", DisplayName: "Evernote", Context: domain.ContextNotes,
		BundleIDs: []string{"com.evernote.Evernote"}, Names: []string{"Evernote"}, Processes: []string{"evernote"}},

	{ID: "word", DisplayName: "Microsoft Word", Context: domain.ContextDocument,
		BundleIDs: []string{"com.microsoft.Word"}, Names: []string{"Microsoft Word", "Word"}, Aliases: []string{"winword.exe"}, Processes: []string{"winword"}},
	{ID: "pages", DisplayName: "Pages", Context: domain.ContextDocument,
		BundleIDs: []string{"com.apple.iWork.Pages"}, Names: []string{"Pages"}},
	{ID: "libreoffice-writer", DisplayName: "LibreOffice Writer", Context: domain.ContextDocument,
		BundleIDs: []string{"org.libreoffice.script"}, Names: []string{"LibreOffice Writer", "LibreOffice"},
		Aliases: []string{"soffice", "libreoffice-writer"}, Processes: []string{"soffice"}},
	{ID: "textedit", DisplayName: "TextEdit", Context: domain.ContextDocument,
		BundleIDs: []string{"com.apple.TextEdit"}, Names: []string{"TextEdit"}},

	{ID: "keynote", DisplayName: "Keynote", Context: domain.ContextPresentation,
		BundleIDs: []string{"com.apple.iWork.Keynote"}, Names: []string{"Keynote"}},
	{ID: "powerpoint", DisplayName: "Microsoft PowerPoint", Context: domain.ContextPresentation,
		BundleIDs: []string{"com.microsoft.Powerpoint"}, Names: []string{"Microsoft PowerPoint", "PowerPoint"},
		Aliases: []string{"powerpnt.exe"}, Processes: []string{"powerpnt"}},

	{ID: "terminal", DisplayName: "Terminal", Context: domain.ContextTerminal,
		BundleIDs: []string{"com.apple.Terminal"}, Names: []string{"Terminal"}},
	{ID: "iterm", DisplayName: "iTerm2", Context: domain.ContextTerminal,
		BundleIDs: []string{"com.googlecode.iterm2"}, Names: []string{"iTerm2", "iTerm"}},
	{ID: "warp", DisplayName: "Warp", Context: domain.ContextTerminal,
		BundleIDs: []string{"dev.warp.Warp-Stable"}, Names: []string{"Warp"}},
	{ID: "windows-terminal", DisplayName: "Windows Terminal", Context: domain.ContextTerminal,
		Names: []string{"Windows Terminal"}, Aliases: []string{"windowsterminal.exe", "wt"}, Processes: []string{"windowsterminal"}},
	{ID: "linux-terminal", DisplayName: "Terminal Emulator", Context: domain.ContextTerminal,
		Names: []string{"gnome-terminal", "Konsole", "Alacritty", "kitty", "foot", "WezTerm"},
		Processes: []string{"gnome-terminal", "konsole", "alacritty", "kitty", "foot", "wezterm"}},
}
